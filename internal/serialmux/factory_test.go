package serialmux

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSerialMuxNormalizesOptions(t *testing.T) {
	port := NewTestableSerialPort()
	factory := NewMockSerialPortFactory(port)

	m, err := OpenSerialMux(factory, "/dev/ttyUSB0", PortOptions{ReadTimeoutMS: 100})
	require.NoError(t, err)
	require.NotNil(t, m)

	call := factory.LastCall()
	require.NotNil(t, call)
	assert.Equal(t, "/dev/ttyUSB0", call.Path)
	assert.Equal(t, DefaultBaudRate, call.Options.BaudRate)
	assert.Equal(t, 100*time.Millisecond, port.ReadTimeout)
}

func TestOpenSerialMuxErrors(t *testing.T) {
	factory := NewMockSerialPortFactory(nil)

	_, err := OpenSerialMux(factory, "/dev/x", PortOptions{DataBits: 4})
	require.Error(t, err)
	assert.Nil(t, factory.LastCall(), "invalid options never reach the factory")

	factory.Error = errors.New("no such device")
	_, err = OpenSerialMux(factory, "/dev/x", PortOptions{})
	assert.EqualError(t, err, "no such device")
}

func TestSerialPortOpener(t *testing.T) {
	var gotPath string
	opener := SerialPortOpener(func(path string, _ PortOptions) (SerialPorter, error) {
		gotPath = path
		return NewTestableSerialPort(), nil
	})
	_, err := OpenSerialMux(opener, "/dev/ttyACM0", PortOptions{})
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", gotPath)
}
