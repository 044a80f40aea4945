package tasmota

import "math"

// Supported colour temperature range.
const (
	MinKelvin = 2700
	MaxKelvin = 6500

	// Tasmota CT range (153 = coldest, 500 = warmest).
	MinNativeCT = 153
	MaxNativeCT = 500
)

// ColorTemperatureConverter translates between kelvin and the device's
// native CT unit. The two methods must be inverse over MinKelvin..MaxKelvin
// within rounding.
type ColorTemperatureConverter interface {
	KelvinToNative(kelvin int) int
	NativeToKelvin(native int) int
}

// LinearConverter maps MinKelvin..MaxKelvin linearly onto
// MaxNativeCT..MinNativeCT. Out of range inputs are clamped.
// A kelvin -> native -> kelvin round trip stays within RoundTripTolerance.
type LinearConverter struct{}

// RoundTripTolerance is the worst case kelvin error of a LinearConverter
// round trip (one native step is ~11 K).
const RoundTripTolerance = 6

var (
	kelvinSpan = float64(MaxKelvin - MinKelvin)
	nativeSpan = float64(MaxNativeCT - MinNativeCT)
)

// KelvinToNative implements ColorTemperatureConverter.
func (LinearConverter) KelvinToNative(kelvin int) int {
	k := clamp(kelvin, MinKelvin, MaxKelvin)
	offset := float64(k-MinKelvin) / kelvinSpan * nativeSpan
	return MaxNativeCT - int(math.Round(offset))
}

// NativeToKelvin implements ColorTemperatureConverter.
func (LinearConverter) NativeToKelvin(native int) int {
	n := clamp(native, MinNativeCT, MaxNativeCT)
	offset := float64(MaxNativeCT-n) / nativeSpan * kelvinSpan
	return MinKelvin + int(math.Round(offset))
}
