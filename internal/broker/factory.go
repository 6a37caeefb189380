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

package broker

import (
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/brokergate/brokergate/internal/credentials"
)

// upstreamTimeout bounds every brokerage call.
const upstreamTimeout = 10 * time.Second

// httpClient is shared by all platform clients; per-request tracing
// comes from the otelhttp transport.
var httpClient = &http.Client{
	Timeout:   upstreamTimeout,
	Transport: otelhttp.NewTransport(http.DefaultTransport),
}

// New builds a client for the named platform from decrypted
// credentials. Tradier needs the API key and account number; Schwab
// additionally needs its account hash.
func New(platform string, creds *credentials.TradingCredentials) (Client, error) {
	switch platform {
	case PlatformTradier:
		return newTradierClient(tradierLiveURL, creds.AccessToken, creds.AccountNumber), nil
	case PlatformTradierPaper:
		return newTradierClient(tradierSandboxURL, creds.AccessToken, creds.AccountNumber), nil
	case PlatformSchwab:
		if creds.AccountHash == "" {
			return nil, fmt.Errorf("schwab credentials missing account hash")
		}
		return newSchwabClient(creds.AccessToken, creds.AccountNumber, creds.AccountHash), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, platform)
	}
}
