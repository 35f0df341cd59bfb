// Package net holds shared HTTP response helpers.
package net

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
)

// Errorf replies to an HTTP request with a JSON error body, also
// logging the error to stderr.
func Errorf(w http.ResponseWriter, code int, msgfmt string, args ...interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": fmt.Sprintf(msgfmt, args...)})
	log.Printf(msgfmt, args...)
}

// WriteJSON replies with v serialized as JSON.
func WriteJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		log.Printf("encoding response: %s", err)
	}
}
