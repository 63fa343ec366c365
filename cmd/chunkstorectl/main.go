// Package main is the entry point for chunkstorectl, a small client for a
// running chunkstore server.
package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
)

const usage = "Usage: chunkstorectl [--server URL] <put|get|head|delete> NAME [FILE]"

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run executes one command and returns the process exit code.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("chunkstorectl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	serverURL := fs.StringP("server", "s", envOr("CHUNKSTORE_URL", "http://localhost:8080"), "chunkstore server base URL")
	timeout := fs.Duration("timeout", 0, "overall request timeout (0 waits for live uploads to finish)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	rest := fs.Args()
	if len(rest) < 2 {
		fmt.Fprintln(stderr, usage)
		return 2
	}
	command, name := rest[0], strings.TrimPrefix(rest[1], "/")
	if name == "" {
		fmt.Fprintln(stderr, "Error: object name must not be empty")
		return 2
	}

	target, err := objectURL(*serverURL, name)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	client := &http.Client{Timeout: *timeout}

	switch command {
	case "put":
		body := stdin
		if len(rest) > 2 && rest[2] != "-" {
			f, err := os.Open(rest[2])
			if err != nil {
				fmt.Fprintf(stderr, "Error: %v\n", err)
				return 1
			}
			defer f.Close()
			body = f
		}
		return do(client, http.MethodPut, target, body, stdout, stderr)
	case "get":
		out := stdout
		if len(rest) > 2 && rest[2] != "-" {
			f, err := os.Create(rest[2])
			if err != nil {
				fmt.Fprintf(stderr, "Error: %v\n", err)
				return 1
			}
			defer f.Close()
			out = f
		}
		return do(client, http.MethodGet, target, nil, out, stderr)
	case "head":
		return doHead(client, target, stdout, stderr)
	case "delete":
		return do(client, http.MethodDelete, target, nil, io.Discard, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n%s\n", command, usage)
		return 2
	}
}

// objectURL joins the server base URL and an object name, escaping each
// path segment.
func objectURL(base, name string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid server URL %q", base)
	}
	segs := strings.Split(name, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.TrimSuffix(u.String(), "/") + "/" + strings.Join(segs, "/"), nil
}

// do sends one request and copies a successful response body to out. Error
// responses are printed to stderr.
func do(client *http.Client, method, target string, body io.Reader, out, stderr io.Writer) int {
	req, err := http.NewRequest(method, target, body)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		fmt.Fprintf(stderr, "Error: %s: %s\n", resp.Status, strings.TrimSpace(string(msg)))
		return 1
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		fmt.Fprintf(stderr, "Error: reading response: %v\n", err)
		return 1
	}
	return 0
}

func doHead(client *http.Client, target string, stdout, stderr io.Writer) int {
	resp, err := client.Head(target)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		fmt.Fprintf(stderr, "Error: %s\n", resp.Status)
		return 1
	}
	fmt.Fprintf(stdout, "status: %s\n", resp.Header.Get("X-Object-Status"))
	fmt.Fprintf(stdout, "content-type: %s\n", resp.Header.Get("Content-Type"))
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		fmt.Fprintf(stdout, "size: %s\n", cl)
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			fmt.Fprintf(stdout, "finished: %s\n", t.Format(time.RFC3339))
		}
	}
	return 0
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
