package registry

import (
	"errors"
	"fmt"
	"reflect"
	"syscall"

	"mini-xpc/codec"
	"mini-xpc/object"
)

// BoxedError is the cross-process form of any error. When it is returned by
// Unbox, the concrete type could not be reconstructed and only the domain,
// code and message survived.
type BoxedError struct {
	Domain  string         `xpc:"domain"`
	Code    int64          `xpc:"code"`
	Message string         `xpc:"message"`
	Inner   *object.Object `xpc:"inner"`
}

func (e *BoxedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s error %d", e.Domain, e.Code)
	}
	return fmt.Sprintf("%s error %d: %s", e.Domain, e.Code, e.Message)
}

func (e *BoxedError) ErrorCode() int { return int(e.Code) }

// Is matches another *BoxedError with the same domain and code.
func (e *BoxedError) Is(target error) bool {
	t, ok := target.(*BoxedError)
	return ok && t.Domain == e.Domain && t.Code == e.Code
}

// Code extracts the numeric code of err: ErrorCode() when some error in the
// chain provides it, then a syscall.Errno, else 0.
func Code(err error) int {
	var coder interface{ ErrorCode() int }
	if errors.As(err, &coder) {
		return coder.ErrorCode()
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return int(errno)
	}
	return 0
}

// Box encodes err as a BoxedError object under the domain of its concrete type.
func (r *Registry) Box(err error) object.Object {
	return r.BoxDomain(err, "")
}

// BoxDomain encodes err under domain, or under the domain of its concrete
// type when domain is empty. A *BoxedError is passed through unchanged.
func (r *Registry) BoxDomain(err error, domain string) object.Object {
	b := r.boxed(err, domain)
	o, encErr := codec.Encode(b)
	if encErr != nil {
		// Strings and integers always encode.
		panic(fmt.Sprintf("registry: encoding boxed error: %v", encErr))
	}
	return o
}

func (r *Registry) boxed(err error, domain string) *BoxedError {
	if b, ok := err.(*BoxedError); ok {
		return b
	}
	if err == nil {
		err = errors.New("nil error")
	}
	t := reflect.TypeOf(err)
	name, registered := r.domainOf(t)
	if domain == "" {
		domain = name
	}
	b := &BoxedError{
		Domain:  domain,
		Code:    int64(Code(err)),
		Message: err.Error(),
	}
	if registered || t.Implements(marshalerType) {
		if inner, encErr := codec.Encode(err); encErr == nil {
			b.Inner = &inner
		}
	}
	return b
}

var marshalerType = reflect.TypeFor[codec.Marshaler]()

// Unbox decodes a BoxedError object. A registered domain whose payload
// decodes yields the concrete error; otherwise the *BoxedError is returned.
// An object that is not a BoxedError at all yields the codec error.
func (r *Registry) Unbox(o object.Object) error {
	var b BoxedError
	if err := codec.Decode(o, &b); err != nil {
		return fmt.Errorf("registry: malformed boxed error: %w", err)
	}
	if b.Inner == nil {
		return &b
	}
	t, ok := r.Lookup(b.Domain)
	if !ok {
		return &b
	}
	if err := decodeInner(*b.Inner, t); err != nil {
		return err
	}
	return &b
}

// decodeInner rebuilds a value of type t from o. It returns nil when the
// payload does not decode or the result is not an error.
func decodeInner(o object.Object, t reflect.Type) error {
	p := reflect.New(t)
	if err := codec.Decode(o, p.Interface()); err != nil {
		return nil
	}
	v := p.Elem()
	if t.Kind() == reflect.Pointer && v.IsNil() {
		return nil
	}
	e, ok := v.Interface().(error)
	if !ok {
		return nil
	}
	return e
}
