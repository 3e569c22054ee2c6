// Package ebtest contains helpers shared across tests in this module.
package ebtest
