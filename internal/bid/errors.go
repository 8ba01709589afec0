package bid

import "errors"

var (
	// ErrSession indicates the anti-forgery token could not be obtained.
	ErrSession = errors.New("session token acquisition failed")
	// ErrCaptchaExhausted indicates every CAPTCHA attempt of a cycle failed.
	ErrCaptchaExhausted = errors.New("captcha attempts exhausted")
)
