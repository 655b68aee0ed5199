package vm

// Address space layout. Every contract has a private 64-bit space.
const (
	MEM_CONST  uint64 = 0
	MEM_EXTERN uint64 = 0x4000000
	MEM_STACK  uint64 = 0x8000000
	MEM_STATIC uint64 = 0x40000000
	MEM_HEAP   uint64 = 1 << 32
)

// STACK_FRAME_SIZE is the largest stack offset a single CALL may add.
const STACK_FRAME_SIZE uint64 = (MEM_STATIC - MEM_STACK) / 16

// Read-only environment slots.
const (
	EXTERN_HEIGHT = MEM_EXTERN + iota
	EXTERN_TXID
	EXTERN_USER
	EXTERN_ADDRESS
	EXTERN_DEPOSIT_CURRENCY
	EXTERN_DEPOSIT_AMOUNT
	EXTERN_NETWORK
)

// STATIC_HEAP_PTR holds the next free heap address. It is the first static slot and is
// never exposed to compiled fields.
const STATIC_HEAP_PTR = MEM_STATIC

// STATIC_FIELDS is where contract fields start.
const STATIC_FIELDS = MEM_STATIC + 1

func isConst(address uint64) bool {
	return address < MEM_EXTERN
}

func isExtern(address uint64) bool {
	return address >= MEM_EXTERN && address < MEM_STACK
}

func isStack(address uint64) bool {
	return address >= MEM_STACK && address < MEM_STATIC
}

// isPersistent reports whether address lives in Storage.
func isPersistent(address uint64) bool {
	return address >= MEM_STATIC
}

func isHeap(address uint64) bool {
	return address >= MEM_HEAP
}
