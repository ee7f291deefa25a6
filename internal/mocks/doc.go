// Package mocks provides test doubles shared across conductor packages.
package mocks
