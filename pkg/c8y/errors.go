package c8y

import (
	"errors"
	"fmt"
	"net/http"
)

// Class separates failures the platform will never accept from failures that
// may succeed if the message is delivered again later.
type Class string

const (
	// ClassPermanent marks a request the platform rejected outright.
	// Retrying the identical request cannot succeed.
	ClassPermanent Class = "permanent"
	// ClassTransient marks a failure worth retrying: rate limiting, server
	// errors, or the request never reaching the platform at all.
	ClassTransient Class = "transient"
)

// RequestError is the typed failure for every platform call. Status is zero
// when the request never produced an HTTP response.
type RequestError struct {
	Op     string
	Status int
	Class  Class
	Body   string
	Err    error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Body != "" {
		return fmt.Sprintf("%s: platform returned %d: %s", e.Op, e.Status, e.Body)
	}
	return fmt.Sprintf("%s: platform returned %d", e.Op, e.Status)
}

func (e *RequestError) Unwrap() error { return e.Err }

// classifyStatus applies the retry taxonomy to an HTTP status code. Anything
// unexpected is treated as transient so the redelivery bound, not a guess
// made here, decides when to give up.
func classifyStatus(status int) Class {
	switch {
	case status == http.StatusTooManyRequests:
		return ClassTransient
	case status >= 400 && status < 500:
		return ClassPermanent
	case status >= 500:
		return ClassTransient
	default:
		return ClassTransient
	}
}

// IsPermanent reports whether err is a platform rejection that redelivery
// cannot fix.
func IsPermanent(err error) bool {
	var re *RequestError
	return errors.As(err, &re) && re.Class == ClassPermanent
}

// IsTransient reports whether err is a platform failure that may clear on
// redelivery.
func IsTransient(err error) bool {
	var re *RequestError
	return errors.As(err, &re) && re.Class == ClassTransient
}

// IsNotFound reports whether err is a 404 from the platform. Callers use it
// to distinguish "unknown external id" from genuine failures.
func IsNotFound(err error) bool {
	var re *RequestError
	return errors.As(err, &re) && re.Status == http.StatusNotFound
}
