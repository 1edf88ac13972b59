package vrpc

import (
	"context"
	"encoding"
	"errors"
	"fmt"
	"reflect"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

type Dispatcher interface {
	Dispatch(ctx context.Context, cmd string, request []byte) (uint32, string, []byte)
	Register(cmd string, handler interface{})
}

// NewDispatcher returns a dispatcher that answers unknown commands and
// failed handlers with defaultErrCode. A non-zero timeout bounds each
// handler call.
func NewDispatcher(defaultErrCode uint32, timeout time.Duration) Dispatcher {
	return &dispatcher{
		handlers: make(map[string]handler),
		errCode:  defaultErrCode,
		timeout:  timeout,
	}
}

type dispatcher struct {
	handlers map[string]handler
	errCode  uint32
	timeout  time.Duration
}

// handler is a registered func(ctx[, req]) ([resp, ]error).
type handler struct {
	fn reflect.Value
	// in is the request type, nil when the handler only takes a context.
	in reflect.Type
}

func newHandler(fn interface{}) (handler, error) {
	if fn == nil {
		return handler{}, errors.New("handler is nil")
	}
	ft := reflect.TypeOf(fn)
	switch {
	case ft.Kind() != reflect.Func:
		return handler{}, fmt.Errorf("handler is a %s, not a func", ft.Kind())
	case ft.NumIn() < 1 || ft.NumIn() > 2 || !ft.In(0).Implements(contextType):
		return handler{}, fmt.Errorf("handler %s must take a context and at most one request", ft)
	case ft.NumOut() < 1 || ft.NumOut() > 2 || !ft.Out(ft.NumOut()-1).Implements(errorType):
		return handler{}, fmt.Errorf("handler %s must return an error, optionally after a response", ft)
	}
	h := handler{fn: reflect.ValueOf(fn)}
	if ft.NumIn() == 2 {
		h.in = ft.In(1)
	}
	return h, nil
}

// Register panics on a handler of the wrong shape; registration happens at
// startup only.
func (d *dispatcher) Register(cmd string, fn interface{}) {
	h, err := newHandler(fn)
	if err != nil {
		panic(fmt.Sprintf("register [%s]: %v", cmd, err))
	}
	d.handlers[cmd] = h
}

func (d *dispatcher) Dispatch(ctx context.Context, command string, payload []byte) (uint32, string, []byte) {
	h, ok := d.handlers[command]
	if !ok {
		return d.errCode, fmt.Sprintf("command [%s] not found", command), nil
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	args := []reflect.Value{reflect.ValueOf(ctx)}
	if h.in != nil {
		req, err := decodeArg(h.in, payload)
		if err != nil {
			return d.errCode, fmt.Sprintf("failed to parse request: %v", err), nil
		}
		args = append(args, req)
	}

	out := h.fn.Call(args)
	if err, _ := out[len(out)-1].Interface().(error); err != nil {
		return d.errCode, fmt.Sprintf("handler error: %v", err), nil
	}
	if len(out) == 1 || isNil(out[0]) {
		return 0, "success", nil
	}
	buf, err := marshalResult(out[0].Interface())
	if err != nil {
		return d.errCode, fmt.Sprintf("failed to marshal response: %v", err), nil
	}
	return 0, "success", buf
}

// decodeArg builds a value of type t from buf. Types implementing
// encoding.BinaryUnmarshaler take the raw payload, anything else is JSON.
// An empty payload yields the zero value, so a nil pointer for pointer
// types.
func decodeArg(t reflect.Type, buf []byte) (reflect.Value, error) {
	if len(buf) == 0 {
		return reflect.Zero(t), nil
	}

	ptr := t.Kind() == reflect.Ptr
	target := reflect.New(t)
	if ptr {
		target = reflect.New(t.Elem())
	}

	if u, ok := target.Interface().(encoding.BinaryUnmarshaler); ok {
		if err := u.UnmarshalBinary(buf); err != nil {
			return reflect.Value{}, fmt.Errorf("binary payload: %w", err)
		}
	} else if err := json.Unmarshal(buf, target.Interface()); err != nil {
		return reflect.Value{}, fmt.Errorf("json payload: %w", err)
	}

	if ptr {
		return target, nil
	}
	return target.Elem(), nil
}

func isNil(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice:
		return v.IsNil()
	}
	return false
}

func marshalResult(v any) ([]byte, error) {
	if m, ok := v.(encoding.BinaryMarshaler); ok {
		return m.MarshalBinary()
	}
	return json.Marshal(v)
}
