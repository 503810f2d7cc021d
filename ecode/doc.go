// Package ecode defines the coded error taxonomy shared by the scheduler,
// tracker, and cache packages.
package ecode
