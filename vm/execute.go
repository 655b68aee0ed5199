package vm

import (
	"fmt"

	"github.com/madMAx43v3r/mmx-node-sub001/errors"
)

// InitMethod is run once when a contract is deployed, if the program defines it.
const InitMethod = "init"

// ExecError is raised by FAIL and ASSERT. Code and Message come from the contract.
type ExecError struct {
	Code      uint64
	Address   uint64
	Operation Opcode
	Message   string
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s at 0x%x: %s (code %d)", e.Operation, e.Address, e.Message, e.Code)
}

func (e *ExecError) Unwrap() error {
	return errors.ErrVMFail
}

// Execute runs a public method with args. Writes are committed to Storage only when the
// whole call succeeds, const methods must not write at all.
func (e *Engine) Execute(name string, args []*Var) (*Var, error) {
	method, ok := e.method(name)
	if !ok || !method.IsPublic {
		return nil, errors.NewVMInvalidOperationError("no such public method: %s", name)
	}

	return e.call(method, args)
}

// ExecuteInternal runs any method, public or not. Remote calls made on behalf of other
// contracts use Execute.
func (e *Engine) ExecuteInternal(name string, args []*Var) (*Var, error) {
	method, ok := e.method(name)
	if !ok {
		return nil, errors.NewVMInvalidOperationError("no such method: %s", name)
	}

	return e.call(method, args)
}

// Init runs the init method of a freshly deployed contract.
func (e *Engine) Init(args []*Var) error {
	method, ok := e.method(InitMethod)
	if !ok {
		if len(args) > 0 {
			return errors.NewVMInvalidOperationError("contract has no init method but %d args given", len(args))
		}

		return e.Commit()
	}

	_, err := e.call(method, args)

	return err
}

func (e *Engine) method(name string) (Method, bool) {
	if e.program == nil {
		return Method{}, false
	}

	m, ok := e.program.Methods[name]

	return m, ok
}

// Method returns the program's method definition.
func (e *Engine) Method(name string) (Method, bool) {
	return e.method(name)
}

func (e *Engine) call(method Method, args []*Var) (*Var, error) {
	if e.done {
		return nil, errors.NewVMInvalidOperationError("engine already used")
	}

	e.done = true

	if len(args) != method.NumArgs {
		return nil, errors.NewVMInvalidOperationError("%s expects %d args, got %d", method.Name, method.NumArgs, len(args))
	}

	e.frames = append(e.frames[:0], frame{ip: method.EntryPoint})

	for i, arg := range args {
		if arg.IsNil() {
			continue
		}

		if err := e.Write(MEM_STACK+1+uint64(i), arg); err != nil {
			return nil, err
		}
	}

	if err := e.run(); err != nil {
		return nil, err
	}

	result, err := e.Read(MEM_STACK)
	if err != nil {
		return nil, err
	}

	if result != nil {
		result = result.Clone()
		result.RefCount = 0
	}

	if err = e.clearStack(); err != nil {
		return nil, err
	}

	if method.IsConst {
		if n := e.NumPendingWrites(); n > 0 {
			return nil, errors.NewVMInvalidOperationError("const method %s wrote %d cells", method.Name, n)
		}

		return result, nil
	}

	if err = e.Commit(); err != nil {
		return nil, err
	}

	return result, nil
}

// run executes until the entry frame returns. Falling off the end of the code is a return.
func (e *Engine) run() error {
	code := e.program.Code

	for len(e.frames) > 0 {
		f := e.currentFrame()

		if f.ip >= uint64(len(code)) {
			e.frames = e.frames[:len(e.frames)-1]
			continue
		}

		ip := f.ip
		inst := code[ip]
		f.ip++

		if e.Params != nil {
			if err := e.Consume(e.Params.CostPerInstruction); err != nil {
				return err
			}
		}

		if inst.Code >= numOpcodes {
			return errors.NewVMInvalidOperationError("invalid opcode %d at 0x%x", inst.Code, ip)
		}

		if err := ops[inst.Code].fn(e, inst); err != nil {
			return wrapExecError(err, inst.Code, ip)
		}
	}

	return nil
}

func wrapExecError(err error, op Opcode, ip uint64) error {
	var execErr *ExecError
	if errors.As(err, &execErr) {
		execErr.Address = ip
		execErr.Operation = op

		return execErr
	}

	code := errors.CodeOf(err)
	if code == errors.ERR_UNKNOWN {
		code = errors.ERR_VM_FAIL
	}

	return errors.New(code, "%s at 0x%x", op, ip, err)
}

// ErrorLocation extracts the failing instruction from an execution error.
func ErrorLocation(err error) (address uint64, op Opcode, ok bool) {
	var execErr *ExecError
	if errors.As(err, &execErr) {
		return execErr.Address, execErr.Operation, true
	}

	return 0, 0, false
}
