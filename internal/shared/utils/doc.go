// Package utils validates eval requests before they reach the guest.
package utils
