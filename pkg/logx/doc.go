// Package logx is heatrank's structured logging on top of zerolog: readable
// console output with a short caller, optional JSON file output, and a
// cron.Logger bridge for the scheduler.
package logx
