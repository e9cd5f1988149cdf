package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"
)

var commands = []struct{ comm, exe, key string }{
	{"ls", "/usr/bin/ls", `"exec"`},
	{"cat", "/usr/bin/cat", `"file_read"`},
	{"curl", "/usr/bin/curl", `"net"`},
	{"sshd", "/usr/sbin/sshd", `"auth"`},
}

func main() {
	output := flag.String("o", "auditd_logs/audit.log", "audit log file to append to")
	count := flag.Int("n", 1000, "number of events to write (0 writes until -d elapses)")
	duration := flag.Duration("d", time.Minute, "maximum time to keep writing")
	eps := flag.Int("eps", 200, "events per second limit")
	nullRatio := flag.Float64("null-ratio", 0.1, "fraction of events written with key=(null)")
	malformedRatio := flag.Float64("malformed-ratio", 0, "fraction of events written with a corrupt msg field")
	seq := flag.Int64("seq", 1, "first audit sequence number")
	flag.Parse()

	log.Printf("Writing audit events to %s", *output)
	log.Printf("Events: %d, Duration: %s, EPS: %d", *count, *duration, *eps)

	f, err := os.OpenFile(*output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Fatalf("failed to open %s: %v", *output, err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	defer w.Flush()

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	limiter := rate.NewLimiter(rate.Limit(*eps), 50) // Allow bursts up to 50

	written, nulls, malformed := 0, 0, 0
	for *count == 0 || written < *count {
		if err := limiter.Wait(ctx); err != nil {
			break
		}

		kind := blockNormal
		switch r := rand.Float64(); {
		case r < *malformedRatio:
			kind = blockMalformed
			malformed++
		case r < *malformedRatio+*nullRatio:
			kind = blockNull
			nulls++
		}

		if _, err := w.WriteString(auditBlock(time.Now(), *seq, kind)); err != nil {
			log.Fatalf("failed to write event: %v", err)
		}
		*seq++
		written++
	}

	log.Println("Generation finished.")
	log.Printf("Events written: %d", written)
	log.Printf("Null key events: %d", nulls)
	log.Printf("Malformed events: %d", malformed)
	log.Printf("Next sequence number: %d", *seq)
}

type blockKind int

const (
	blockNormal blockKind = iota
	blockNull
	blockMalformed
)

// auditBlock renders one SYSCALL/CWD/PATH/PROCTITLE group the way auditd
// writes it.
func auditBlock(now time.Time, seq int64, kind blockKind) string {
	stamp := fmt.Sprintf("%d.%03d:%d", now.Unix(), now.Nanosecond()/int(time.Millisecond), seq)
	if kind == blockMalformed {
		stamp = fmt.Sprintf("corrupt:%d", seq)
	}
	msg := "audit(" + stamp + "):"

	c := commands[rand.Intn(len(commands))]
	key := c.key
	if kind == blockNull {
		key = "(null)"
	}
	pid := 1000 + rand.Intn(30000)
	uid := rand.Intn(2) * 1000

	return fmt.Sprintf("type=SYSCALL msg=%s arch=c000003e syscall=59 success=yes exit=0 a0=55d0 a1=55d1 a2=55d2 a3=0 items=2 ppid=%d pid=%d auid=%d uid=%d gid=%d euid=%d suid=%d fsuid=%d egid=%d sgid=%d fsgid=%d tty=pts0 ses=%d comm=\"%s\" exe=\"%s\" key=%s\n",
		msg, pid-1, pid, uid, uid, uid, uid, uid, uid, uid, uid, uid, 1+rand.Intn(20), c.comm, c.exe, key) +
		fmt.Sprintf("type=CWD msg=%s cwd=\"/home/user\"\n", msg) +
		fmt.Sprintf("type=PATH msg=%s item=0 name=\"%s\" inode=1234 dev=fd:00 mode=0100755 ouid=0 ogid=0 rdev=00:00\n", msg, c.exe) +
		fmt.Sprintf("type=PROCTITLE msg=%s proctitle=%x\n", msg, c.comm)
}
