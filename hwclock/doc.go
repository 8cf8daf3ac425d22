// Package hwclock (Highway CLOCK) contains the tick-based time model
// shared by every consensus component.
//
// A [Tick] counts whole time units since the genesis instant,
// and a [Converter] maps between ticks and wall-clock instants.
// All tick arithmetic is integer arithmetic;
// conversions round-trip exactly at unit granularity.
//
// The [Clock] interface decouples consensus logic from real time.
// [WallClock] backs it with the time package for production use,
// and [VirtualClock] is a manually advanced clock whose Advance method
// delivers scheduled wakeups deterministically, in tick order,
// which keeps timing-sensitive consensus tests reproducible.
package hwclock
