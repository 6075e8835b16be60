package levelcontroller

import "time"

// TimerScheduler schedules reloads with time.AfterFunc, the production
// ReloadScheduler. Uses the same cancel-func-per-timer
// context.CancelFunc + goroutine-per-timer idiom in
// internal/relay/daemon_registry.go, adapted to a one-shot timer per call
// instead of a recurring ticker.
type TimerScheduler struct{}

// Schedule arms fn to run after delayMillis; the returned cancel stops it
// if it has not yet fired.
func (TimerScheduler) Schedule(delayMillis int64, fn func()) (cancel func()) {
	timer := time.AfterFunc(time.Duration(delayMillis)*time.Millisecond, fn)
	return func() { timer.Stop() }
}
