package serialmux

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSerialMuxWithOpener(t *testing.T) {
	port := NewTestableSerialPort()
	opener := &MockOpener{Port: port}
	opts := PortOptions{BaudRate: 9600}

	mux, err := NewSerialMuxWithOpener("/dev/ttyAMA0", opts, opener.Open)
	require.NoError(t, err)
	require.NotNil(t, mux)

	call := opener.LastCall()
	require.NotNil(t, call)
	assert.Equal(t, "/dev/ttyAMA0", call.Path)
	assert.Equal(t, opts, call.Options)

	require.NoError(t, mux.SendLine("1 GET button"))
	assert.Equal(t, []string{"1 GET button"}, port.WrittenLines())
}

func TestNewSerialMuxWithOpener_Error(t *testing.T) {
	opener := &MockOpener{Error: errors.New("no such device")}

	mux, err := NewSerialMuxWithOpener("/dev/missing", PortOptions{}, opener.Open)
	assert.Nil(t, mux)
	assert.EqualError(t, err, "no such device")
	assert.Len(t, opener.OpenCalls, 1)
}

func TestOpenPort_InvalidOptions(t *testing.T) {
	_, err := OpenPort("/dev/null", PortOptions{BaudRate: 31337})
	assert.Error(t, err)
}

func TestMockOpener_LastCallEmpty(t *testing.T) {
	assert.Nil(t, (&MockOpener{}).LastCall())
}
