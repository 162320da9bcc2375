//go:build linux && cgo

package media

// Camera/mic capture needs platform drivers (V4L2 + malgo). On other
// platforms no driver registers and DeviceAcquirer denies every request.
import (
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
)
