package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mkcore-project/mkcore"
	"github.com/mkcore-project/mkcore/internal/abi"
	"github.com/mkcore-project/mkcore/internal/ipc"
	"github.com/mkcore-project/mkcore/internal/kthread"
	"github.com/mkcore-project/mkcore/internal/ktask"
	"github.com/mkcore-project/mkcore/internal/logging"
)

func main() {
	var (
		numCPUs  = flag.Int("cpus", 4, "Number of simulated CPUs")
		numTasks = flag.Int("tasks", 8, "Number of client tasks placing calls against the echo server")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	k, err := mkcore.Boot(mkcore.Config{NumCPUs: *numCPUs})
	if err != nil {
		logger.Error("failed to boot kernel", "error", err)
		os.Exit(1)
	}
	logger.Info("kernel booted", "cpus", k.NumCPUs())

	server := k.CreateTask("echo-server", ktask.CapSet(0), nil)
	serverBox, _ := server.Answerbox().(*ipc.Answerbox)

	var serverThread *kthread.Thread
	serverThread, err = k.SpawnThread(server, kthread.Config{
		Name:      "echo-server-main",
		StackSize: 32 * 1024,
		Entry: func(any) {
			for {
				res, err := k.Dispatch(serverThread, server, nil, abi.SysIPCWaitForCall,
					abi.FastArgs{0: uintptr(5 * time.Second)}, abi.SlowArgs{})
				if err != nil {
					logger.Debug("echo server stopping", "error", err)
					return
				}
				var answer [6]uint64
				answer[0] = 1
				if _, err := k.Dispatch(serverThread, server, nil, abi.SysIPCAnswer,
					abi.FastArgs{0: uintptr(res.CallID)}, abi.SlowArgs{IPCArgs: answer}); err != nil {
					logger.Error("echo server failed to answer", "error", err)
				}
			}
		},
	})
	if err != nil {
		logger.Error("failed to spawn echo server", "error", err)
		os.Exit(1)
	}

	done := make(chan struct{})
	for i := 0; i < *numTasks; i++ {
		clientIdx := i
		client := k.CreateTask(fmt.Sprintf("client-%d", clientIdx), ktask.CapSet(0), nil)
		clientPhones, _ := client.PhoneTable().(*ipc.PhoneTable)
		if _, err := ipc.BindPhone(clientPhones, 0, serverBox); err != nil {
			logger.Error("failed to bind client phone", "client", clientIdx, "error", err)
			continue
		}

		var clientThread *kthread.Thread
		clientThread, err = k.SpawnThread(client, kthread.Config{
			Name:      fmt.Sprintf("client-%d-main", clientIdx),
			StackSize: 16 * 1024,
			Entry: func(any) {
				start := time.Now()
				_, err := k.Dispatch(clientThread, client, nil, abi.SysIPCCallSync,
					abi.FastArgs{0: 0, 1: uintptr(mkcore.IPCFirstUserMethod), 2: uintptr(time.Second)},
					abi.SlowArgs{})
				if err != nil {
					logger.Error("client call failed", "client", clientIdx, "error", err)
				} else {
					logger.Debug("client call completed", "client", clientIdx, "latency", time.Since(start))
				}
				done <- struct{}{}
			},
		})
		if err != nil {
			logger.Error("failed to spawn client", "client", clientIdx, "error", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	completed := 0
	for completed < *numTasks {
		select {
		case <-done:
			completed++
		case <-sigCh:
			logger.Info("received shutdown signal before all clients completed", "completed", completed)
			k.Shutdown()
			os.Exit(1)
		case <-time.After(10 * time.Second):
			logger.Error("timed out waiting for clients", "completed", completed, "expected", *numTasks)
			k.Shutdown()
			os.Exit(1)
		}
	}

	logger.Info("all clients completed", "count", completed)
	snapshot := k.MetricsSnapshot()
	fmt.Printf("dispatches=%d calls_completed=%d call_errors=%d\n",
		snapshot.Dispatches, snapshot.CallsCompleted, snapshot.CallErrors)

	k.Shutdown()
}
