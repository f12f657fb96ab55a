package idempotency

import (
	"context"
	"fmt"
	"time"
)

type mapStore map[string]string

func (s mapStore) SetNX(_ context.Context, key, value string, _ time.Duration) (bool, error) {
	if _, ok := s[key]; ok {
		return false, nil
	}
	s[key] = value
	return true, nil
}

func (s mapStore) Delete(_ context.Context, key string) error {
	delete(s, key)
	return nil
}

func ExampleManager_CheckAndMarkProcessed() {
	ctx := context.Background()
	manager, _ := NewManager(mapStore{}, nil, 72*time.Hour)

	for _, delivery := range []string{"evt_f47ac10b", "evt_f47ac10b", "evt_9b1deb4d"} {
		seen, _ := manager.CheckAndMarkProcessed(ctx, "gateway-webhook", delivery)
		fmt.Println(delivery, "duplicate:", seen)
	}
	// Output:
	// evt_f47ac10b duplicate: false
	// evt_f47ac10b duplicate: true
	// evt_9b1deb4d duplicate: false
}
