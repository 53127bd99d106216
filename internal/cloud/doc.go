// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud provides the OpenRouter HTTP client used by rigchat.
//
// It covers the two outbound calls the application makes: the streaming
// chat-completions request and the model catalog request. It also provides
// the incremental server-sent-event decoder that turns raw response bytes
// into typed frames.
//
// # Key Types
//
//   - OpenRouterClient: HTTP client with pacing, retry and error mapping
//   - CompletionRequest: body of the streaming chat-completions request
//   - FrameDecoder: byte-level SSE line splitter and frame parser
//   - Frame: one decoded stream frame (delta, usage or error)
//
// # Usage
//
//	client := cloud.NewOpenRouterClient().WithSiteName("rigchat")
//	body, err := client.OpenStream(ctx, apiKey, cloud.CompletionRequest{...})
//	if err != nil {
//	    return err
//	}
//	defer body.Close()
//
//	dec := cloud.NewFrameDecoder()
//	buf := make([]byte, 4096)
//	for {
//	    n, err := body.Read(buf)
//	    for _, ev := range dec.Feed(buf[:n]) {
//	        // handle ev
//	    }
//	    if err != nil {
//	        break
//	    }
//	}
//
// # Security
//
// Credentials are passed per call and never stored or logged; a short
// SHA-256 fingerprint is logged instead. All requests use TLS 1.2+.
package cloud
