/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: hook.go
Description: Extension points around intercepted calls.
*/

package monitor

// Hook observes intercepted calls. AfterCall may replace the result of an
// allowed call; the replacement must have the call's return type.
type Hook interface {
	BeforeCall(logLine string)
	AfterCall(logLine string, result any) any
	Finalize()
}

// NopHook passes every call through untouched.
type NopHook struct{}

func (NopHook) BeforeCall(string)                  {}
func (NopHook) AfterCall(_ string, result any) any { return result }
func (NopHook) Finalize()                          {}
