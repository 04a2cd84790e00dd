package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

type enlistRequest struct {
	Locator  string   `json:"locator"`
	Services []string `json:"services"`
}

func main() {
	addr := flag.String("addr", "http://localhost:9090", "coordinator address")
	n := flag.Int("n", 5000, "enlistments")
	conc := flag.Int("c", 32, "concurrency")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}
	wg := sync.WaitGroup{}
	start := time.Now()
	ch := make(chan int, *conc)

	for i := 0; i < *n; i++ {
		wg.Add(1)
		ch <- 1
		go func(i int) {
			defer wg.Done()
			body, _ := json.Marshal(enlistRequest{
				Locator:  fmt.Sprintf("backup%d.local:8080", i),
				Services: []string{"BACKUP"},
			})
			resp, _ := client.Post(*addr+"/servers", "application/json", bytes.NewReader(body))
			if resp != nil {
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}
			resp, _ = client.Get(*addr + "/servers")
			if resp != nil {
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}
			<-ch
		}(i)
	}
	wg.Wait()
	dur := time.Since(start)
	fmt.Printf("Completed %d ops in %s (%.2f ops/s)\n", *n*2, dur, float64(*n*2)/dur.Seconds())
}
