package osm

import (
	"sync"
	"time"
)

// MonitoringHooks defines hooks for observing Overpass traffic
type MonitoringHooks struct {
	// OnRequest is called before a query is sent
	OnRequest func(service, operation string)

	// OnResponse is called after a query completes
	OnResponse func(service, operation string, duration time.Duration, success bool)

	// OnRateLimit is called when the limiter made the caller wait
	OnRateLimit func(service string, waitTime time.Duration)

	// OnCache is called on every response cache lookup
	OnCache func(service string, hit bool)

	// OnError is called when an error occurs
	OnError func(service, errorType string)
}

var (
	globalHooks *MonitoringHooks
	hooksMutex  sync.RWMutex
)

// SetMonitoringHooks sets global monitoring hooks
func SetMonitoringHooks(hooks *MonitoringHooks) {
	hooksMutex.Lock()
	defer hooksMutex.Unlock()
	globalHooks = hooks
}

func getMonitoringHooks() *MonitoringHooks {
	hooksMutex.RLock()
	defer hooksMutex.RUnlock()
	return globalHooks
}

func hookRequest(service, operation string) {
	if h := getMonitoringHooks(); h != nil && h.OnRequest != nil {
		h.OnRequest(service, operation)
	}
}

func hookResponse(service, operation string, d time.Duration, success bool) {
	if h := getMonitoringHooks(); h != nil && h.OnResponse != nil {
		h.OnResponse(service, operation, d, success)
	}
}

func hookRateLimit(service string, wait time.Duration) {
	if h := getMonitoringHooks(); h != nil && h.OnRateLimit != nil {
		h.OnRateLimit(service, wait)
	}
}

func hookCache(service string, hit bool) {
	if h := getMonitoringHooks(); h != nil && h.OnCache != nil {
		h.OnCache(service, hit)
	}
}

func hookError(service, errorType string) {
	if h := getMonitoringHooks(); h != nil && h.OnError != nil {
		h.OnError(service, errorType)
	}
}
