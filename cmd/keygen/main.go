// Copyright 2026 The BrokerGate Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command keygen prints fresh values for ENCRYPTION_KEY and
// JWT_SECRET_KEY, ready to paste into a .env file.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/fernet/fernet-go"
)

func main() {
	var encryptionKey fernet.Key
	if err := encryptionKey.Generate(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate encryption key: %v\n", err)
		os.Exit(1)
	}

	jwtSecret := make([]byte, 32)
	if _, err := rand.Read(jwtSecret); err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate jwt secret: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("# Add these to your .env file. Keep them out of version control.")
	fmt.Printf("ENCRYPTION_KEY=%s\n", encryptionKey.Encode())
	fmt.Printf("JWT_SECRET_KEY=%s\n", base64.RawURLEncoding.EncodeToString(jwtSecret))
}
