package message

import "fmt"

// Err is a serializable execution error. Behaviour errors are wrapped with
// the content of the execute message that produced them so an observer can
// attribute the failure without holding the original message.
type Err struct {
	Code    string   `json:"code,omitempty"`
	Message string   `json:"message"`
	Source  *Content `json:"source,omitempty"`
}

// NewErr wraps err with the source execute content.
func NewErr(err error, source *Content) *Err {
	if err == nil {
		return nil
	}
	return &Err{Message: err.Error(), Source: source.Clone()}
}

// Error implements the error interface.
func (e *Err) Error() string {
	if e.Source != nil && e.Source.ID != "" {
		return fmt.Sprintf("%s: %s", e.Source.ID, e.Message)
	}
	return e.Message
}

// Clone returns a deep copy of the error.
func (e *Err) Clone() *Err {
	if e == nil {
		return nil
	}
	out := *e
	out.Source = e.Source.Clone()
	return &out
}
