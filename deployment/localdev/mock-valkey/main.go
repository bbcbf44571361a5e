package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// instance simulates the INFO counters of a Valkey server. Every burstEvery
// interval connections and throughput jump for burstFor, which the engine
// should report as a traffic burst.
type instance struct {
	mu         sync.Mutex
	started    time.Time
	burstEvery time.Duration
	burstFor   time.Duration

	evicted  int64
	misses   int64
	slowlogs int64
}

func (i *instance) bursting(now time.Time) bool {
	if i.burstEvery <= 0 {
		return false
	}
	elapsed := now.Sub(i.started)
	return elapsed >= i.burstEvery && elapsed%i.burstEvery < i.burstFor
}

func (i *instance) info(now time.Time) string {
	i.mu.Lock()
	defer i.mu.Unlock()

	clients := 50 + rand.Intn(5)
	ops := 1000 + rand.Intn(50)
	memory := 200<<20 + rand.Intn(1<<20)
	i.evicted += int64(rand.Intn(3))
	i.misses += int64(10 + rand.Intn(5))
	if i.bursting(now) {
		clients *= 4
		ops *= 5
		i.slowlogs++
	}

	var b strings.Builder
	b.WriteString("# Clients\r\n")
	fmt.Fprintf(&b, "connected_clients:%d\r\n", clients)
	fmt.Fprintf(&b, "blocked_clients:%d\r\n", rand.Intn(2))
	b.WriteString("# Memory\r\n")
	fmt.Fprintf(&b, "used_memory:%d\r\n", memory)
	fmt.Fprintf(&b, "mem_fragmentation_ratio:%.2f\r\n", 1.05+rand.Float64()*0.02)
	b.WriteString("# Stats\r\n")
	fmt.Fprintf(&b, "instantaneous_ops_per_sec:%d\r\n", ops)
	fmt.Fprintf(&b, "instantaneous_input_kbps:%.2f\r\n", float64(ops)*0.08)
	fmt.Fprintf(&b, "instantaneous_output_kbps:%.2f\r\n", float64(ops)*0.12)
	fmt.Fprintf(&b, "evicted_keys:%d\r\n", i.evicted)
	fmt.Fprintf(&b, "keyspace_misses:%d\r\n", i.misses)
	b.WriteString("acl_access_denied_auth:0\r\n")
	return b.String()
}

func main() {
	addr := flag.String("addr", ":6379", "listen address")
	every := flag.Duration("burst-every", 90*time.Second, "interval between simulated traffic bursts (0 disables)")
	length := flag.Duration("burst-for", 10*time.Second, "length of each burst")
	flag.Parse()

	logger := log.New(log.Writer(), "valkey-mock ", log.LstdFlags|log.Lmicroseconds)
	inst := &instance{started: time.Now(), burstEvery: *every, burstFor: *length}

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		logger.Fatalf("listen: %v", err)
	}
	logger.Printf("listening on %s", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			logger.Fatalf("accept: %v", err)
		}
		go serve(logger, inst, conn)
	}
}

func serve(logger *log.Logger, inst *instance, conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	for {
		args, err := readCommand(reader)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Printf("%s: %v", conn.RemoteAddr(), err)
			}
			return
		}
		if len(args) == 0 {
			continue
		}
		var reply string
		switch strings.ToUpper(args[0]) {
		case "PING":
			reply = "+PONG\r\n"
		case "AUTH", "SELECT":
			reply = "+OK\r\n"
		case "INFO":
			body := inst.info(time.Now())
			reply = fmt.Sprintf("$%d\r\n%s\r\n", len(body), body)
		case "SLOWLOG":
			inst.mu.Lock()
			reply = fmt.Sprintf(":%d\r\n", inst.slowlogs)
			inst.mu.Unlock()
		default:
			reply = fmt.Sprintf("-ERR unknown command '%s'\r\n", args[0])
		}
		if _, err := io.WriteString(conn, reply); err != nil {
			return
		}
	}
}

func readCommand(r *bufio.Reader) ([]string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, "*") {
		return strings.Fields(line), nil
	}
	n, err := strconv.Atoi(line[1:])
	if err != nil {
		return nil, fmt.Errorf("bad array header %q", line)
	}
	args := make([]string, 0, n)
	for i := 0; i < n; i++ {
		header, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		header = strings.TrimRight(header, "\r\n")
		if !strings.HasPrefix(header, "$") {
			return nil, fmt.Errorf("bad bulk header %q", header)
		}
		size, err := strconv.Atoi(header[1:])
		if err != nil {
			return nil, fmt.Errorf("bad bulk header %q", header)
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		args = append(args, string(buf[:size]))
	}
	return args, nil
}
