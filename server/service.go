package server

import (
	"context"
	"fmt"
	"reflect"

	"mini-xpc/codec"
	"mini-xpc/message"
	"mini-xpc/middleware"
	"mini-xpc/object"
)

var (
	errorType   = reflect.TypeFor[error]()
	contextType = reflect.TypeFor[context.Context]()
)

type methodType struct {
	method    reflect.Method
	withCtx   bool // First argument is a context.Context
	ArgType   reflect.Type
	ReplyType reflect.Type
}

// service exposes the exported methods of a receiver as handlers named
// "Service.Method". A method qualifies when it looks like one of
//
//	func (r *T) Method(args *A, reply *R) error
//	func (r *T) Method(ctx context.Context, args *A, reply *R) error
type service struct {
	name   string
	rcvr   reflect.Value
	typ    reflect.Type
	method map[string]*methodType
}

func newService(rcvr any, name string) (*service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Pointer {
		return nil, fmt.Errorf("server: receiver must be a pointer, got %v", typ)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("server: receiver must point to a struct, got %s", typ.Elem().Kind())
	}
	if name == "" {
		name = typ.Elem().Name()
	}
	s := &service{
		name:   name,
		rcvr:   reflect.ValueOf(rcvr),
		typ:    typ,
		method: make(map[string]*methodType),
	}
	s.registerMethods()
	if len(s.method) == 0 {
		return nil, fmt.Errorf("server: %s has no exported methods of a callable shape", name)
	}
	return s, nil
}

func (s *service) registerMethods() {
	for i := 0; i < s.typ.NumMethod(); i++ {
		m := s.typ.Method(i)
		mt := m.Type
		if mt.NumOut() != 1 || mt.Out(0) != errorType {
			continue
		}
		first := 1
		withCtx := mt.NumIn() == 4 && mt.In(1) == contextType
		if withCtx {
			first = 2
		} else if mt.NumIn() != 3 {
			continue
		}
		args, reply := mt.In(first), mt.In(first+1)
		if args.Kind() != reflect.Pointer || reply.Kind() != reflect.Pointer {
			continue
		}
		s.method[m.Name] = &methodType{
			method:    m,
			withCtx:   withCtx,
			ArgType:   args.Elem(),
			ReplyType: reply.Elem(),
		}
	}
}

// handler decodes the request into a fresh argument value, calls the method
// and encodes whatever it left in the reply.
func (s *service) handler(mt *methodType) middleware.HandlerFunc {
	return func(ctx context.Context, req *message.Message) (object.Object, error) {
		argv := reflect.New(mt.ArgType)
		replyv := reflect.New(mt.ReplyType)
		if err := codec.Decode(req.Body, argv.Interface()); err != nil {
			return object.Object{}, err
		}
		if err := s.call(ctx, mt, argv, replyv); err != nil {
			return object.Object{}, err
		}
		return codec.Encode(replyv.Elem().Interface())
	}
}

func (s *service) call(ctx context.Context, mt *methodType, argv, replyv reflect.Value) error {
	in := []reflect.Value{s.rcvr, argv, replyv}
	if mt.withCtx {
		in = []reflect.Value{s.rcvr, reflect.ValueOf(ctx), argv, replyv}
	}
	results := mt.method.Func.Call(in)
	if err, _ := results[0].Interface().(error); err != nil {
		return err
	}
	return nil
}
