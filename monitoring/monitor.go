// Package monitoring turns a control session into a small web server so
// that the controller's state and recent decisions can be inspected from
// outside the process.
package monitoring

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/process"

	"github.com/tempolab/tempo/ctrl"
)

// historyDepth is the number of recent epochs kept for /api/epochs.
const historyDepth = 1024

// A Monitor observes a controller through its epoch hook and serves the
// observations over HTTP. It copies everything it needs while the hook
// runs on the control thread; request handlers never touch the controller.
type Monitor struct {
	portNumber int
	listener   net.Listener

	lock   sync.Mutex
	states []ctrl.StatePair
	status ctrl.Status
	epochs []ctrl.EpochCtx
}

// NewMonitor creates a new Monitor.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n",
			portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterController attaches the monitor to a controller. It must be
// called from the control thread before the control loop starts.
func (m *Monitor) RegisterController(c *ctrl.Controller) {
	m.lock.Lock()
	m.states = c.States()
	m.status = c.Status()
	m.lock.Unlock()

	c.AcceptHook(m)
}

// Func records the completed epoch. It implements ctrl.Hook and runs
// synchronously on the control thread.
func (m *Monitor) Func(ctx ctrl.EpochCtx) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.status.CurrentIndex = ctx.To
	m.status.Epochs++
	m.status.MeanRate = ctx.MeanRate
	m.status.MeanPower = ctx.MeanPower

	m.epochs = append(m.epochs, ctx)
	if len(m.epochs) > historyDepth {
		m.epochs = m.epochs[len(m.epochs)-historyDepth:]
	}
}

// Handler returns the HTTP handler serving the monitor API.
func (m *Monitor) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/status", m.listStatus)
	r.HandleFunc("/api/states", m.listStates)
	r.HandleFunc("/api/epochs", m.listEpochs)
	r.HandleFunc("/api/resource", m.listResources)

	return r
}

// StartServer starts the monitor as a web server, on a random port unless
// one was set with WithPortNumber. It returns the address the server
// listens on.
func (m *Monitor) StartServer() string {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	m.listener = listener

	fmt.Fprintf(os.Stderr,
		"Monitoring control session with http://localhost:%d\n",
		listener.Addr().(*net.TCPAddr).Port)

	go func() {
		err := http.Serve(listener, m.Handler())
		if err != nil && err != http.ErrServerClosed {
			log.Println(err)
		}
	}()

	return listener.Addr().String()
}

// StopServer stops the web server.
func (m *Monitor) StopServer() {
	if m.listener != nil {
		m.listener.Close()
	}
}

func (m *Monitor) listStatus(w http.ResponseWriter, _ *http.Request) {
	m.lock.Lock()
	status := m.status
	m.lock.Unlock()

	writeJSON(w, status)
}

func (m *Monitor) listStates(w http.ResponseWriter, _ *http.Request) {
	m.lock.Lock()
	states := make([]ctrl.StatePair, len(m.states))
	copy(states, m.states)
	m.lock.Unlock()

	writeJSON(w, states)
}

func (m *Monitor) listEpochs(w http.ResponseWriter, _ *http.Request) {
	m.lock.Lock()
	epochs := make([]ctrl.EpochCtx, len(m.epochs))
	copy(epochs, m.epochs)
	m.lock.Unlock()

	writeJSON(w, epochs)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	proc, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := proc.CPUPercent()
	dieOnErr(err)

	memorySize, err := proc.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func writeJSON(w http.ResponseWriter, value any) {
	bytes, err := json.Marshal(value)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")

	_, err = w.Write(bytes)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
