// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package handler provides adapters to the volley.CallHandler type for
// functions with other signatures.
//
// The parameter of an adapted function is the first argument of the call.
// An argument whose type is already the parameter type is passed through.
// Otherwise the argument must be []byte or string, and the parameter may be
// []byte or string, or a type whose pointer supports one of the
// encoding.BinaryUnmarshaler or encoding.TextUnmarshaler interfaces.
//
// Results that support the encoding.BinaryMarshaler or
// encoding.TextMarshaler interfaces are sent in marshaled form; all other
// results are sent as they are, to be encoded by the session codec.
package handler

import (
	"bytes"
	"context"
	"encoding"
	"errors"
	"fmt"

	"github.com/creachadair/volley"
)

type reqContextKey struct{}

// ContextRequest returns the request passed to a handler built by this
// package, or nil if ctx does not carry one.
func ContextRequest(ctx context.Context) *volley.Request {
	req, _ := ctx.Value(reqContextKey{}).(*volley.Request)
	return req
}

// bind returns a volley.CallHandler that calls f with a context carrying the
// request, and marshals its result.
func bind[R any](f func(context.Context, *volley.Request) (R, error)) volley.CallHandler {
	return func(ctx context.Context, req *volley.Request) (any, error) {
		r, err := f(context.WithValue(ctx, reqContextKey{}, req), req)
		if err != nil {
			return nil, err
		}
		return marshal(r)
	}
}

// ParamResultError adapts f, taking a parameter P and returning R or an
// error, to a volley.CallHandler.
func ParamResultError[P, R any](f func(context.Context, P) (R, error)) volley.CallHandler {
	return bind(func(ctx context.Context, req *volley.Request) (r R, _ error) {
		p, err := param[P](req)
		if err != nil {
			return r, err
		}
		return f(ctx, p)
	})
}

// ParamResult adapts f, taking a parameter P and returning R, to a
// volley.CallHandler.
func ParamResult[P, R any](f func(context.Context, P) R) volley.CallHandler {
	return ParamResultError(func(ctx context.Context, p P) (R, error) { return f(ctx, p), nil })
}

// ParamError adapts f, taking a parameter P and returning only an error, to
// a volley.CallHandler. The reply to a successful call has no body.
func ParamError[P any](f func(context.Context, P) error) volley.CallHandler {
	return ParamResultError(func(ctx context.Context, p P) (any, error) { return nil, f(ctx, p) })
}

// ResultError adapts f, taking no parameter and returning R or an error, to a
// volley.CallHandler.
func ResultError[R any](f func(context.Context) (R, error)) volley.CallHandler {
	return bind(func(ctx context.Context, _ *volley.Request) (R, error) { return f(ctx) })
}

// ResultOnly adapts f, taking no parameter and returning R, to a
// volley.CallHandler.
func ResultOnly[R any](f func(context.Context) R) volley.CallHandler {
	return bind(func(ctx context.Context, _ *volley.Request) (R, error) { return f(ctx), nil })
}

// param extracts the parameter of type P from the first argument of req.
// A failure is reported to the caller as a bad request.
func param[P any](req *volley.Request) (P, error) {
	var p P
	c := req.Call()
	if c == nil || len(c.Args) == 0 {
		return p, badRequest(errors.New("missing parameter"))
	}
	arg := c.Args[0]
	if v, ok := arg.(P); ok {
		return v, nil
	}
	var data []byte
	switch t := arg.(type) {
	case []byte:
		data = t
	case string:
		data = []byte(t)
	default:
		return p, badRequest(fmt.Errorf("cannot use %T as %T", arg, p))
	}
	if err := unmarshal(data, &p); err != nil {
		return p, badRequest(err)
	}
	return p, nil
}

func badRequest(err error) error {
	return &volley.RemoteError{Code: volley.CodeBadRequest, Message: err.Error()}
}

// unmarshal decodes data into v, which must point to a []byte or string or
// implement one of the standard unmarshaling interfaces. Binary is tried
// before text.
func unmarshal(data []byte, v any) error {
	switch t := v.(type) {
	case *[]byte:
		*t = bytes.Clone(data)
	case *string:
		*t = string(data)
	case encoding.BinaryUnmarshaler:
		return t.UnmarshalBinary(data)
	case encoding.TextUnmarshaler:
		return t.UnmarshalText(data)
	default:
		return fmt.Errorf("cannot unmarshal into %T", v)
	}
	return nil
}

// marshal returns the reply body for v: its binary or text marshaled form if
// it has one, otherwise v itself.
func marshal(v any) (any, error) {
	switch t := v.(type) {
	case encoding.BinaryMarshaler:
		return t.MarshalBinary()
	case encoding.TextMarshaler:
		return t.MarshalText()
	default:
		return v, nil
	}
}
