package assembly

// Stack is the last-in first-out value stack of an execution.
type Stack struct {
	values []Value
}

// NewStack returns a stack holding values, the last one on top.
func NewStack(values ...Value) *Stack {
	s := &Stack{}
	s.values = append(s.values, values...)
	return s
}

// Push adds v on top.
func (s *Stack) Push(v Value) { s.values = append(s.values, v) }

// Pop removes and returns the most recent value. It fails with
// ErrStackUnderflow on an empty stack.
func (s *Stack) Pop() (Value, error) {
	n := len(s.values)
	if n == 0 {
		return Value{}, ErrStackUnderflow
	}
	v := s.values[n-1]
	s.values[n-1] = Value{}
	s.values = s.values[:n-1]
	return v, nil
}

// PopN removes the n most recent values and returns them oldest first.
func (s *Stack) PopN(n int) ([]Value, error) {
	if n > len(s.values) {
		return nil, ErrStackUnderflow
	}
	start := len(s.values) - n
	out := make([]Value, n)
	copy(out, s.values[start:])
	clear(s.values[start:])
	s.values = s.values[:start]
	return out, nil
}

// Peek returns the most recent value without removing it.
func (s *Stack) Peek() (Value, error) {
	if len(s.values) == 0 {
		return Value{}, ErrStackUnderflow
	}
	return s.values[len(s.values)-1], nil
}

// Len returns the stack depth.
func (s *Stack) Len() int { return len(s.values) }

// Values returns a copy of the stack, bottom first.
func (s *Stack) Values() []Value {
	out := make([]Value, len(s.values))
	copy(out, s.values)
	return out
}
