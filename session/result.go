package session

import "encoding/json"

// Result carries the outcome of a user-invoked operation. Exactly one of Data
// and Err is meaningful: when Err is set Data is the zero value.
type Result[T any] struct {
	Data T
	Err  error
}

func (r Result[T]) OK() bool {
	return r.Err == nil
}

// MarshalJSON renders {"data": ..., "error": ...} with the error as its message.
func (r Result[T]) MarshalJSON() ([]byte, error) {
	out := struct {
		Data  any     `json:"data"`
		Error *string `json:"error"`
	}{}
	if r.Err != nil {
		msg := r.Err.Error()
		out.Error = &msg
	} else {
		out.Data = r.Data
	}
	return json.Marshal(out)
}

func failed[T any](err error) Result[T] {
	return Result[T]{Err: err}
}
