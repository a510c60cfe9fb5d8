// Package main implements a small diffusion submodel, as an example of
// driving a simulation through the coupling runtime. It receives an
// initial state on F_INIT, diffuses it for a configured number of
// steps, and sends the final state on O_F.
//
// Run it under a manager, for example as the "micro" model of a
// macro/micro pair:
//
//	diffusion-demo --muscle-instance=micro --muscle-manager=localhost:9000
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/coupling/instance"
	"github.com/c360/coupling/message"
	"github.com/c360/coupling/metric"
	"github.com/c360/coupling/port"
	"github.com/c360/coupling/types"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("submodel failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	metrics := metric.NewMetrics()
	registry := prometheus.NewRegistry()
	if err := metrics.Register(registry); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	if addr := os.Getenv("COUPLING_METRICS_ADDR"); addr != "" {
		go serveMetrics(addr, registry, logger)
	}

	inst, err := instance.New(os.Args, types.PortsDescription{
		port.OperatorFInit: {"initial_state"},
		port.OperatorOF:    {"final_state"},
	},
		instance.WithLogger(logger),
		instance.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}
	defer inst.Close()

	for {
		ok, err := inst.ReuseInstance(true)
		if err != nil {
			return err
		}
		if !ok {
			break
		}

		dt, err := inst.GetSettingFloat("dt")
		if err != nil {
			return err
		}
		steps, err := inst.GetSettingInt("steps")
		if err != nil {
			return err
		}
		diffusivity, err := inst.GetSettingFloat("diffusivity")
		if err != nil {
			return err
		}

		msg, err := inst.Receive("initial_state")
		if err != nil {
			return err
		}
		var u []float64
		if err := msg.Data.Decode(&u); err != nil {
			return err
		}

		t := msg.Timestamp
		for s := int64(0); s < steps; s++ {
			u = diffuse(u, diffusivity, dt)
			t += dt
		}

		result, err := message.Data(u)
		if err != nil {
			return err
		}
		if err := inst.Send("final_state", message.New(t, result)); err != nil {
			return err
		}
		logger.Info("iteration done", "t", t, "cells", len(u))
	}
	return nil
}

// diffuse advances the field one explicit Euler step with zero-flux
// boundaries.
func diffuse(u []float64, d, dt float64) []float64 {
	next := make([]float64, len(u))
	for i := range u {
		left, right := i, i
		if i > 0 {
			left = i - 1
		}
		if i < len(u)-1 {
			right = i + 1
		}
		next[i] = u[i] + d*dt*(u[left]-2*u[i]+u[right])
	}
	return next
}

func serveMetrics(addr string, registry *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metric.Handler(registry))
	logger.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}
