package interp

import (
	"github.com/fortiblox/ember/pkg/vm/bytecode"
	"github.com/fortiblox/ember/pkg/vm/loader"
	"github.com/fortiblox/ember/pkg/vm/values"
	"github.com/fortiblox/ember/pkg/vm/vmerr"
)

// Stack is the operand stack shared by every frame of an execution. Callees
// consume their arguments from it and leave their results on it.
type Stack struct {
	vals  []values.Value
	limit int
}

// NewStack returns an empty stack bounded at limit values.
func NewStack(limit uint64) *Stack {
	return &Stack{limit: int(limit)}
}

// Push adds a value on top.
func (s *Stack) Push(v values.Value) error {
	if len(s.vals) >= s.limit {
		return vmerr.Newf(vmerr.StatusOperandStackOverflow,
			"operand stack limit is %d values", s.limit)
	}
	s.vals = append(s.vals, v)
	return nil
}

// Pop removes and returns the top value. Popping an empty stack means the
// verifier missed an underflow, so the failure is an invariant violation.
func (s *Stack) Pop() (values.Value, error) {
	if len(s.vals) == 0 {
		return values.Value{}, vmerr.Newf(vmerr.StatusEmptyOperandStack, "pop of empty operand stack")
	}
	top := s.vals[len(s.vals)-1]
	s.vals[len(s.vals)-1] = values.Value{}
	s.vals = s.vals[:len(s.vals)-1]
	return top, nil
}

// PopN removes the top n values and returns them deepest-first, which is the
// declaration order of call arguments and pack fields.
func (s *Stack) PopN(n int) ([]values.Value, error) {
	if n > len(s.vals) {
		return nil, vmerr.Newf(vmerr.StatusEmptyOperandStack,
			"pop of %d values from a stack of %d", n, len(s.vals))
	}
	out := make([]values.Value, n)
	base := len(s.vals) - n
	copy(out, s.vals[base:])
	for i := base; i < len(s.vals); i++ {
		s.vals[i] = values.Value{}
	}
	s.vals = s.vals[:base]
	return out, nil
}

// Last returns views of the top n values deepest-first, without popping.
// Gas charges that need argument views before consumption read them here.
func (s *Stack) Last(n int) ([]values.Value, error) {
	if n > len(s.vals) {
		return nil, vmerr.Newf(vmerr.StatusEmptyOperandStack,
			"view of %d values on a stack of %d", n, len(s.vals))
	}
	return s.vals[len(s.vals)-n:], nil
}

// Len returns the number of values on the stack.
func (s *Stack) Len() int {
	return len(s.vals)
}

// Drain removes every value, bottom first. Execution results leave the
// machine this way.
func (s *Stack) Drain() []values.Value {
	out := s.vals
	s.vals = nil
	return out
}

// Frame is one call-stack entry: the executing function, its program
// counter, its locals, and its concrete type arguments.
type Frame struct {
	fn       *bytecode.Function
	pc       uint16
	locals   *values.Locals
	typeArgs []*bytecode.Type
	resolver *loader.Resolver
}

// CallStack is the bounded stack of frames.
type CallStack struct {
	frames []*Frame
	limit  int
}

// NewCallStack returns an empty call stack bounded at limit frames.
func NewCallStack(limit uint64) *CallStack {
	return &CallStack{limit: int(limit)}
}

// Push adds a frame.
func (c *CallStack) Push(f *Frame) error {
	if len(c.frames) >= c.limit {
		return vmerr.Newf(vmerr.StatusCallStackOverflow,
			"call stack limit is %d frames", c.limit)
	}
	c.frames = append(c.frames, f)
	return nil
}

// Pop removes the top frame.
func (c *CallStack) Pop() (*Frame, bool) {
	if len(c.frames) == 0 {
		return nil, false
	}
	top := c.frames[len(c.frames)-1]
	c.frames[len(c.frames)-1] = nil
	c.frames = c.frames[:len(c.frames)-1]
	return top, true
}

// Top returns the current frame.
func (c *CallStack) Top() *Frame {
	if len(c.frames) == 0 {
		return nil
	}
	return c.frames[len(c.frames)-1]
}

// Depth returns the current frame count.
func (c *CallStack) Depth() int {
	return len(c.frames)
}
