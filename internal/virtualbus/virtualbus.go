// Package virtualbus implements the virtual bus adapter: create,
// connect-with-retry, submit, disconnect against the signed kernel bus
// driver that synthesizes virtual gamepad endpoints.
//
// Grounded on main.go's NewVirtualGamepad/VirtualGamepad.Update:
// "open a device node, build a small fixed report, write it" is the
// same shape, generalized from /dev/uinput ioctls to the virtual bus
// driver's connect/submit/disconnect calls. The retry-with-backoff in
// Connect is new (the uinput path is synchronous and always local);
// this binds to the driver's documented 5-attempts/300·attempt-ms
// reconnect contract instead.
package virtualbus

import (
	"errors"
	"time"
)

// ErrInfrastructureMissing is returned by NewClient when the virtual
// bus driver isn't present.
var ErrInfrastructureMissing = errors.New("virtual bus driver not present")

// ErrConnectFailed is returned when Connect exhausts its retries.
var ErrConnectFailed = errors.New("virtual gamepad failed to connect")

// State is the packed report submitted to a connected virtual gamepad.
// Buttons bit 0x0400 is the Guide button.
type State struct {
	Buttons           uint16
	LeftTrigger       uint8
	RightTrigger      uint8
	ThumbLX, ThumbLY  int16
	ThumbRX, ThumbRY  int16
}

const GuideButtonBit uint16 = 0x0400

// driverHandle is the OS-specific bus connection; separated so tests can
// fake it without touching real kernel drivers.
type driverHandle interface {
	// Open returns ErrInfrastructureMissing if the driver isn't present.
	Open() error
	Create() (virtualHandle, error)
	Close() error
}

// virtualHandle is one virtual gamepad's OS handle.
type virtualHandle interface {
	Connect() error
	Submit(State) error
	Disconnect() error
}

// Client owns the driver connection used to create virtual gamepads.
type Client struct {
	driver driverHandle
}

// NewClient opens the virtual bus driver. Fails with
// ErrInfrastructureMissing if the driver isn't present.
func NewClient(driver driverHandle) (*Client, error) {
	if err := driver.Open(); err != nil {
		return nil, ErrInfrastructureMissing
	}
	return &Client{driver: driver}, nil
}

// Close releases the client's driver connection.
func (c *Client) Close() error {
	return c.driver.Close()
}

// Create allocates a new, disconnected virtual gamepad.
func (c *Client) Create() (*Controller, error) {
	h, err := c.driver.Create()
	if err != nil {
		return nil, err
	}
	return &Controller{handle: h}, nil
}

// Controller is one allocated virtual gamepad endpoint.
type Controller struct {
	handle    virtualHandle
	connected bool
}

// retryDelay is injected so tests don't sleep for real.
var retryDelay = func(attempt int) time.Duration {
	return time.Duration(attempt) * 300 * time.Millisecond
}

const maxConnectAttempts = 5

// Connect retries up to 5 attempts spaced 300·attempt ms. Fails with
// ErrConnectFailed if none succeed.
func (c *Controller) Connect() error {
	var lastErr error
	for attempt := 1; attempt <= maxConnectAttempts; attempt++ {
		if err := c.handle.Connect(); err == nil {
			c.connected = true
			return nil
		} else {
			lastErr = err
		}
		if attempt < maxConnectAttempts {
			time.Sleep(retryDelay(attempt))
		}
	}
	_ = lastErr
	return ErrConnectFailed
}

// Submit writes one state update. The channel calls this explicitly per
// update; there is no auto-submit.
func (c *Controller) Submit(s State) error {
	return c.handle.Submit(s)
}

// Disconnect tears down the virtual gamepad. Safe to call multiple
// times.
func (c *Controller) Disconnect() error {
	if !c.connected {
		return nil
	}
	c.connected = false
	return c.handle.Disconnect()
}
