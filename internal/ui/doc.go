// Package ui implements the interactive terminal dashboard using bubbletea's Elm architecture.
//
// The TUI has three views:
//  1. [LoadingView] : shown while the stored session is restored
//  2. [LoginView] : login and signup form
//  3. [DashboardView] : live reading and pump status for the selected device
//
// A [DevicePickerView] overlays the dashboard for choosing a device from a list.
//
// The (view) [Model] never owns session or telemetry state. It subscribes to the session controller,
// the telemetry controller and the notice bus, turning each channel into a stream of [Msg] values,
// and forwards key presses to the controllers as intents. A forced logout arrives as a session change
// and returns the view to the login form.
package ui
