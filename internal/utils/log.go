// Package utils
package utils

import (
	"log"
	"os"
	"sync"
)

var (
	logger *log.Logger
	once   sync.Once
)

// GetLogger returns the shared file-backed audit logger. Outbound calls
// (marketplace fetches, alert delivery) log their retries and failures here.
func GetLogger() *log.Logger {
	once.Do(func() {
		file, err := os.OpenFile("sentinel.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			log.Fatal(err)
		}
		logger = log.New(file, "Sentinel: ", log.LstdFlags)
	})
	return logger
}
