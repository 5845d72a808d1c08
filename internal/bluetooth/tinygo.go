package bluetooth

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"tinygo.org/x/bluetooth"
)

const readBufferSize = 4096

// TinyGoRadio is a Scanner backed by the host Bluetooth adapter.
type TinyGoRadio struct {
	adapter *bluetooth.Adapter

	enableOnce sync.Once
	enableErr  error

	// one scan at a time per adapter
	scanMu sync.Mutex

	mu   sync.Mutex
	seen map[string]bluetooth.Address
}

// NewTinyGoRadio returns a radio on the default adapter. The adapter is
// enabled on first use.
func NewTinyGoRadio() *TinyGoRadio {
	return &TinyGoRadio{
		adapter: bluetooth.DefaultAdapter,
		seen:    make(map[string]bluetooth.Address),
	}
}

func (r *TinyGoRadio) enable() error {
	r.enableOnce.Do(func() {
		if err := r.adapter.Enable(); err != nil {
			r.enableErr = fmt.Errorf("enabling bluetooth adapter: %w", err)
		}
	})
	return r.enableErr
}

// Scan reports advertisements until ctx is done.
func (r *TinyGoRadio) Scan(ctx context.Context, found func(Device)) error {
	if err := r.enable(); err != nil {
		return err
	}
	r.scanMu.Lock()
	defer r.scanMu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- r.adapter.Scan(func(_ *bluetooth.Adapter, res bluetooth.ScanResult) {
			addr := strings.ToUpper(res.Address.String())
			r.mu.Lock()
			r.seen[addr] = res.Address
			r.mu.Unlock()
			found(Device{Name: res.LocalName(), Address: addr, RSSI: res.RSSI})
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("scanning: %w", err)
		}
		return nil
	case <-ctx.Done():
		_ = r.adapter.StopScan()
		<-done
		return nil
	}
}

func (r *TinyGoRadio) lookup(address string) (bluetooth.Address, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	addr, ok := r.seen[strings.ToUpper(address)]
	return addr, ok
}

// Connect opens a link to address, scanning for it first if it has not
// been seen yet.
func (r *TinyGoRadio) Connect(ctx context.Context, address string) (Link, error) {
	if err := r.enable(); err != nil {
		return nil, err
	}
	addr, ok := r.lookup(address)
	if !ok {
		scanCtx, cancel := context.WithCancel(ctx)
		err := r.Scan(scanCtx, func(d Device) {
			if strings.EqualFold(d.Address, address) {
				cancel()
			}
		})
		cancel()
		if err != nil {
			return nil, err
		}
		if addr, ok = r.lookup(address); !ok {
			return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, address)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dev, err := r.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", address, err)
	}
	link := &tinyGoLink{chars: make(map[string]tinyGoChar), disconnect: dev.Disconnect}

	services, err := dev.DiscoverServices(nil)
	if err != nil {
		_ = link.Close()
		return nil, fmt.Errorf("discovering services: %w", err)
	}
	for _, svc := range services {
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			_ = link.Close()
			return nil, fmt.Errorf("discovering characteristics: %w", err)
		}
		for _, c := range chars {
			link.chars[strings.ToLower(c.UUID().String())] = tinyGoChar{
				read:  c.Read,
				write: c.WriteWithoutResponse,
			}
		}
	}
	return link, nil
}

type tinyGoChar struct {
	read  func([]byte) (int, error)
	write func([]byte) (int, error)
}

type tinyGoLink struct {
	chars      map[string]tinyGoChar
	disconnect func() error
	closeOnce  sync.Once
	closeErr   error
}

func (l *tinyGoLink) char(uuid string) (tinyGoChar, error) {
	c, ok := l.chars[strings.ToLower(uuid)]
	if !ok {
		return tinyGoChar{}, fmt.Errorf("%w: %s", ErrCharacteristicNotFound, uuid)
	}
	return c, nil
}

func (l *tinyGoLink) Read(ctx context.Context, uuid string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := l.char(uuid)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, readBufferSize)
	n, err := c.read(buf)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", uuid, err)
	}
	return buf[:n], nil
}

func (l *tinyGoLink) Write(ctx context.Context, uuid string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := l.char(uuid)
	if err != nil {
		return err
	}
	if _, err := c.write(data); err != nil {
		return fmt.Errorf("writing %s: %w", uuid, err)
	}
	return nil
}

func (l *tinyGoLink) Close() error {
	l.closeOnce.Do(func() { l.closeErr = l.disconnect() })
	return l.closeErr
}
