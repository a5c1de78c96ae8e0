package entity

// Value is a named in-memory string, signed by a digest of its content.
type Value struct {
	base
	content string
}

// NewValue signs content under name. An empty name defaults to the content.
func NewValue(name, content string, tags ...string) Value {
	if name == "" {
		name = content
	}
	return Value{base: newBase(name, DigestStrings(content), tags), content: content}
}

func (Value) Kind() Kind    { return KindValue }
func (v Value) Get() string { return v.content }

// IsActual holds for any signed value: content lives in the value itself.
func (v Value) IsActual() bool { return v.sig.Signed() }
func (v Value) Actual() Entity { return v }
func (Value) Remove() error    { return nil }
