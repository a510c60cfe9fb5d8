// Package coupling is the instance-side runtime of a multiscale
// coupling framework: a library linked into each simulation component
// of a coupled scientific simulation.
//
// # Architecture
//
// A coupled simulation consists of submodel instances wired together
// by a declarative topology, under the control of a central manager.
// This module turns an ordinary simulation loop into a reusable
// submodel that can be orchestrated, reconfigured, and composed with
// other submodels:
//
//	┌─────────────────────────────────────┐
//	│           Submodel code             │  the user's loop
//	│   for ReuseInstance() { ... }       │
//	└─────────────────────────────────────┘
//	           ↓ drives
//	┌─────────────────────────────────────┐
//	│            Instance                 │  reuse loop, F_INIT cache,
//	│  (register, connect, send, receive) │  overlays, shutdown
//	└─────────────────────────────────────┘
//	        ↓ peers              ↓ control
//	┌───────────────┐    ┌───────────────┐
//	│ Communicator  │    │  MMP client   │  NATS subjects for data,
//	│ (NATS pub/sub)│    │(request/reply)│  request/reply for control
//	└───────────────┘    └───────────────┘
//
// Each instance registers with the manager, learns its peers, then
// exchanges timestamped messages over its ports. Every message can
// carry a settings overlay, so that ensembles of runs with different
// parameters flow through one wiring; mixing messages from different
// overlays ("parallel universes") is detected and rejected.
//
// # Framework Packages
//
// Core:
//   - instance: the Instance object and its reuse loop
//   - communicator: peer-to-peer transport and port resolution
//   - mmp: manager protocol client
//   - profiler: batched timing events for the manager
//
// Data model:
//   - reference: structured identifiers ("macro.micro[3]")
//   - settings: typed setting values, ordered mappings, overlay layers
//   - message: timestamped payloads and the ClosePort sentinel
//   - port: operators and per-slot port state
//   - types: conduits and peer topology
//
// Infrastructure:
//   - errors: structured error handling
//   - metric: Prometheus metrics
//   - pkg/optional: present/absent values
//   - pkg/retry: retry policies
//   - pkg/timestamp: profiling timestamps
//
// # Usage
//
// A minimal submodel:
//
//	inst, err := instance.New(os.Args, types.PortsDescription{
//	    port.OperatorFInit: {"init_in"},
//	    port.OperatorOF:    {"state_out"},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer inst.Close()
//
//	for {
//	    ok, err := inst.ReuseInstance(true)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    if !ok {
//	        break
//	    }
//	    msg, _ := inst.Receive("init_in")
//	    // ... compute ...
//	    _ = inst.Send("state_out", message.New(t, result))
//	}
//
// The process is identified on its command line:
//
//	./my-submodel --muscle-instance=macro --muscle-manager=host:9000
package coupling
