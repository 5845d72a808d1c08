package bluetooth

import (
	"context"
	"sort"
	"strings"
	"time"
)

// GATT characteristics of the machine service.
const (
	CharRead  = "0a0b7847-e12b-09a8-b04b-8e0922a9abab"
	CharWrite = "0b0b7847-e12b-09a8-b04b-8e0922a9abab"
	CharToken = "0c0b7847-e12b-09a8-b04b-8e0922a9abab"
	CharAuth  = "0d0b7847-e12b-09a8-b04b-8e0922a9abab"
)

// ModelPrefixes are the advertised name prefixes of supported machines.
var ModelPrefixes = []string{"MICRA", "MINI", "GS3"}

// Device is one advertising machine.
type Device struct {
	Name    string
	Address string
	RSSI    int16
}

// Scanner is the radio: it scans for advertisements and opens links.
type Scanner interface {
	// Scan reports advertisements until ctx is done.
	Scan(ctx context.Context, found func(Device)) error
	// Connect opens a GATT link to address.
	Connect(ctx context.Context, address string) (Link, error)
}

// Link is an open GATT connection. Characteristics are addressed by UUID.
type Link interface {
	Read(ctx context.Context, char string) ([]byte, error)
	Write(ctx context.Context, char string, data []byte) error
	Close() error
}

// IsMachine reports whether an advertised name belongs to a supported machine.
func IsMachine(name string) bool {
	for _, p := range ModelPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// Discover scans for timeout and returns supported machines, strongest
// signal first. Each address appears once.
func Discover(ctx context.Context, scanner Scanner, timeout time.Duration) ([]Device, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	seen := make(map[string]Device)
	err := scanner.Scan(ctx, func(d Device) {
		if !IsMachine(d.Name) {
			return
		}
		if prev, ok := seen[d.Address]; !ok || d.RSSI > prev.RSSI {
			seen[d.Address] = d
		}
	})
	if err != nil {
		return nil, err
	}

	out := make([]Device, 0, len(seen))
	for _, d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RSSI != out[j].RSSI {
			return out[i].RSSI > out[j].RSSI
		}
		return out[i].Address < out[j].Address
	})
	return out, nil
}
