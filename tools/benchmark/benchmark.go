// Package main provides a load generator for the logging endpoints. Every
// simulated visitor gets its own session cookie and walks a few pages,
// calling /hit, /pview and /tick per page like the wiki and its script do.
package main

import (
	"crypto/tls"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var pages = []string{"start", "wiki:syntax", "wiki:welcome", "playground:playground", "de:start"}

var agents = []string{
	"Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_5 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)",
	"python-requests/2.32.3",
}

type stats struct {
	requests   int64
	errors     int64
	latency    int64 // in microseconds
	minLatency int64
	maxLatency int64
}

func (s *stats) record(latency int64) {
	atomic.AddInt64(&s.requests, 1)
	atomic.AddInt64(&s.latency, latency)

	// Update min/max (approximate, not perfectly thread-safe)
	for {
		old := atomic.LoadInt64(&s.minLatency)
		if latency >= old || atomic.CompareAndSwapInt64(&s.minLatency, old, latency) {
			break
		}
	}
	for {
		old := atomic.LoadInt64(&s.maxLatency)
		if latency <= old || atomic.CompareAndSwapInt64(&s.maxLatency, old, latency) {
			break
		}
	}
}

type visitor struct {
	client  *http.Client
	base    string
	session string
	agent   string
	stats   *stats
}

func (v *visitor) do(req *http.Request) {
	req.Header.Set("User-Agent", v.agent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9,de;q=0.7")
	req.AddCookie(&http.Cookie{Name: "DokuWiki", Value: v.session})

	start := time.Now()
	resp, err := v.client.Do(req)
	latency := time.Since(start).Microseconds()
	if err != nil {
		atomic.AddInt64(&v.stats.errors, 1)
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		atomic.AddInt64(&v.stats.errors, 1)
		return
	}
	v.stats.record(latency)
}

// visit sends the three log calls for one page view
func (v *visitor) visit(page, referrer string) {
	q := url.Values{"p": {page}, "lang": {"en"}, "geo": {"DE"}}
	hit, _ := http.NewRequest(http.MethodGet, v.base+"/hit?"+q.Encode(), nil)
	if referrer != "" {
		hit.Header.Set("Referer", referrer)
	}
	v.do(hit)

	pv := fmt.Sprintf(`{"pg":%q,"lt":%d,"r":%q}`, page, 100+rand.Intn(900), referrer)
	post, _ := http.NewRequest(http.MethodPost, v.base+"/pview",
		strings.NewReader(url.Values{"pageview": {pv}}.Encode()))
	post.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	v.do(post)

	tick, _ := http.NewRequest(http.MethodHead, v.base+"/tick?"+url.Values{"p": {page}}.Encode(), nil)
	v.do(tick)
}

func main() {
	base := flag.String("url", "http://localhost:8080", "BotMon server base URL")
	duration := flag.Duration("duration", 10*time.Second, "Test duration")
	concurrency := flag.Int("c", 10, "Number of concurrent visitors")
	depth := flag.Int("pages", 3, "Pages per visitor before a new session starts")
	insecure := flag.Bool("insecure", false, "Skip TLS certificate verification")
	flag.Parse()

	target := strings.TrimSuffix(*base, "/")
	fmt.Printf("Benchmarking %s (/hit, /pview, /tick)\n", target)
	fmt.Printf("Duration: %v, Concurrency: %d, Pages per visitor: %d\n\n", *duration, *concurrency, *depth)

	// Create HTTP client
	tr := &http.Transport{
		MaxIdleConns:        *concurrency * 2,
		MaxIdleConnsPerHost: *concurrency * 2,
		IdleConnTimeout:     90 * time.Second,
	}
	if *insecure {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	client := &http.Client{
		Transport: tr,
		Timeout:   5 * time.Second,
	}

	var (
		st       = &stats{minLatency: 1<<63 - 1}
		visitors int64
		wg       sync.WaitGroup
		stop     = make(chan struct{})
	)

	// Start workers
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				v := &visitor{
					client:  client,
					base:    target,
					session: uuid.NewString(),
					agent:   agents[rand.Intn(len(agents))],
					stats:   st,
				}
				atomic.AddInt64(&visitors, 1)

				referrer := "https://www.google.com/"
				for n := 0; n < *depth; n++ {
					select {
					case <-stop:
						return
					default:
					}
					page := pages[rand.Intn(len(pages))]
					v.visit(page, referrer)
					referrer = target + "/" + page
				}
			}
		}()
	}

	// Progress ticker
	ticker := time.NewTicker(time.Second)
	go func() {
		elapsed := 0
		for range ticker.C {
			elapsed++
			reqs := atomic.LoadInt64(&st.requests)
			errs := atomic.LoadInt64(&st.errors)
			fmt.Printf("[%ds] Visitors: %d, Requests: %d, Errors: %d, RPS: %.0f\n",
				elapsed, atomic.LoadInt64(&visitors), reqs, errs, float64(reqs)/float64(elapsed))
		}
	}()

	// Wait for duration
	time.Sleep(*duration)
	close(stop)
	ticker.Stop()
	wg.Wait()

	// Results
	reqs := atomic.LoadInt64(&st.requests)
	errs := atomic.LoadInt64(&st.errors)
	latencyTotal := atomic.LoadInt64(&st.latency)
	minLat := atomic.LoadInt64(&st.minLatency)
	maxLat := atomic.LoadInt64(&st.maxLatency)

	avgLatency := float64(0)
	if reqs > 0 {
		avgLatency = float64(latencyTotal) / float64(reqs)
	}

	rps := float64(reqs) / duration.Seconds()

	fmt.Println("\n========== RESULTS ==========")
	fmt.Printf("Visitors:        %d\n", atomic.LoadInt64(&visitors))
	fmt.Printf("Total requests:  %d\n", reqs)
	fmt.Printf("Total errors:    %d\n", errs)
	fmt.Printf("Duration:        %v\n", *duration)
	fmt.Printf("Concurrency:     %d\n", *concurrency)
	fmt.Println()
	fmt.Printf("RPS:             %.2f\n", rps)
	fmt.Printf("RPM:             %.0f\n", rps*60)
	fmt.Println()
	fmt.Printf("Latency avg:     %.2f µs (%.3f ms)\n", avgLatency, avgLatency/1000)
	fmt.Printf("Latency min:     %d µs (%.3f ms)\n", minLat, float64(minLat)/1000)
	fmt.Printf("Latency max:     %d µs (%.3f ms)\n", maxLat, float64(maxLat)/1000)

	if errs > 0 {
		os.Exit(1)
	}
}
