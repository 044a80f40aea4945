// Package device stores the property change history of Tasmota devices.
//
// The Tasmota bridge reports every property change (from polling or from a
// command) and SQLiteHistoryRepository keeps one row per change. The REST
// API reads it back per device or per property, newest first, and the
// bridge prunes rows past the configured retention once a day.
package device
