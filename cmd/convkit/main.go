package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"runtime"
	"runtime/pprof"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/raftwork/convkit/internal/conv"
	"github.com/raftwork/convkit/internal/device"
	"github.com/raftwork/convkit/internal/reference"
	"github.com/raftwork/convkit/internal/tensorio"
)

var (
	scenarioName  = flag.String("scenario", "small", "Scenario to run (see -list)")
	listScenarios = flag.Bool("list", false, "List scenarios and exit")
	iterations    = flag.Int("iters", 1, "Runs per adapter")
	duration      = flag.Duration("duration", 0, "Run soak test for specified duration (e.g. 10s, 20m)")
	parallel      = flag.Int("parallel", 1, "Concurrent adapters, each with its own engine context")
	maxConcurrent = flag.Int("max-concurrent", runtime.NumCPU(), "Execution slots shared by all workers; extra workers wait for a slot")
	verify        = flag.Bool("verify", false, "Check the last result against the direct reference convolution")
	seed          = flag.Int64("seed", 1, "Seed for input generation")
	cpuProfile    = flag.String("cpuprofile", "", "Write cpu profile to file")
	enableOTel    = flag.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)")
	listenAddr    = flag.String("listen", "", "Address to serve /metrics on (e.g. :8080)")
	reportPath    = flag.String("report", "", "Write CBOR benchmark report to file")
	dumpPath      = flag.String("dump", "", "Write Arrow snapshot of worker 0's tensors to file")
)

var tracer trace.Tracer = otel.Tracer("convkit-harness")

func main() {
	// Initialize logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	flag.Parse()

	if *listScenarios {
		for _, s := range scenarios {
			fmt.Printf("%-12s %s\n", s.Name, s.Desc)
		}
		return
	}

	if *enableOTel {
		shutdown, err := initTracer()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracer")
		}
		defer shutdown(context.Background())
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create CPU profile file")
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal().Err(err).Msg("Could not start CPU profile")
		}
		defer pprof.StopCPUProfile()
	}

	if *listenAddr != "" {
		http.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(*listenAddr, nil); err != nil {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		log.Info().Str("addr", *listenAddr).Msg("Serving metrics")
	}

	sc, ok := findScenario(*scenarioName)
	if !ok {
		log.Fatal().Str("scenario", *scenarioName).Msg("Unknown scenario, try -list")
	}
	if *parallel < 1 {
		*parallel = 1
	}
	if *maxConcurrent < 1 {
		*maxConcurrent = 1
	}
	if *iterations < 1 {
		*iterations = 1
	}

	log.Info().
		Str("scenario", sc.Name).
		Int("parallel", *parallel).
		Int("max_concurrent", *maxConcurrent).
		Int("iters", *iterations).
		Dur("duration", *duration).
		Msg("Starting benchmark")

	runCtx := context.Background()
	sem := semaphore.NewWeighted(int64(*maxConcurrent))
	runs := make([]int64, *parallel)
	var wg sync.WaitGroup

	start := time.Now()
	for i := 0; i < *parallel; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runs[id] = runWorker(runCtx, id, sc, sem)
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	var totalRuns int64
	for _, r := range runs {
		totalRuns += r
	}
	rps := float64(totalRuns) / elapsed.Seconds()
	gflops := sc.flops() * float64(totalRuns) / elapsed.Seconds() / 1e9

	p := message.NewPrinter(language.English)
	p.Printf("%s: %d runs in %v (%.1f runs/s, %.2f GFLOP/s)\n",
		sc.Name, totalRuns, elapsed.Round(time.Millisecond), rps, gflops)

	log.Info().
		Int64("runs", totalRuns).
		Dur("elapsed", elapsed).
		Float64("runs_per_sec", rps).
		Float64("gflops", gflops).
		Msg("Benchmark complete")

	if *reportPath != "" {
		rep := Report{
			Scenario:   sc.Name,
			Engine:     device.NewCPUEngine().Name(),
			Parallel:   *parallel,
			Runs:       totalRuns,
			ElapsedSec: elapsed.Seconds(),
			RunsPerSec: rps,
			GFLOPS:     gflops,
			Timestamp:  time.Now().UTC(),
		}
		if err := writeReport(*reportPath, rep); err != nil {
			log.Fatal().Err(err).Msg("Failed to write report")
		}
		log.Info().Str("path", *reportPath).Msg("Report written")
	}
}

// runWorker owns one device context and one adapter for its whole life and
// returns how many runs it completed. Adapter construction and every run
// take one execution slot from sem, so workers beyond -max-concurrent wait
// their turn. Any failure is fatal; nothing here retries.
func runWorker(ctx context.Context, id int, sc Scenario, sem *semaphore.Weighted) int64 {
	workerCtx, span := tracer.Start(ctx, "convkit.worker")
	span.SetAttributes(
		attribute.String("scenario", sc.Name),
		attribute.Int("worker", id),
	)
	defer span.End()

	dev, err := device.NewContext(device.CPU)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create device context")
	}
	defer dev.Close()

	inst := sc.instance(*seed + int64(id))

	var ad *conv.Adapter
	_, buildSpan := tracer.Start(workerCtx, "adapter.build")
	err = runGated(ctx, sem, func() error {
		var buildErr error
		ad, buildErr = conv.New(dev, inst)
		return buildErr
	})
	buildSpan.End()
	if err != nil {
		log.Fatal().Err(err).Str("scenario", sc.Name).Msg("Adapter construction failed")
	}
	defer ad.Close()

	var deadline time.Time
	if *duration > 0 {
		deadline = time.Now().Add(*duration)
	}
	soakStart := time.Now()

	var n int64
	for {
		_, runSpan := tracer.Start(workerCtx, "adapter.run")
		err := runGated(ctx, sem, ad.Run)
		runSpan.End()
		if err != nil {
			log.Fatal().Err(err).Str("scenario", sc.Name).Msg("Run failed")
		}
		n++

		if deadline.IsZero() {
			if n >= int64(*iterations) {
				break
			}
			continue
		}
		if !time.Now().Before(deadline) {
			break
		}
		if id == 0 && n%100 == 0 {
			soakElapsed := time.Since(soakStart)
			log.Info().
				Str("elapsed", soakElapsed.Round(time.Second).String()).
				Int64("runs", n).
				Float64("rps", float64(n)/soakElapsed.Seconds()).
				Msg("Soak progress")
		}
	}

	if *verify {
		verifyResult(sc, inst)
	}
	if *dumpPath != "" && id == 0 {
		if err := dumpTensors(*dumpPath, inst); err != nil {
			log.Fatal().Err(err).Msg("Failed to write tensor snapshot")
		}
		log.Info().Str("path", *dumpPath).Msg("Tensor snapshot written")
	}
	return n
}

// runGated runs fn while holding one of sem's execution slots, so the
// engines see at most -max-concurrent submissions at once however many
// workers -parallel spawns. The slot is released even when fn fails.
func runGated(ctx context.Context, sem *semaphore.Weighted, fn func() error) error {
	if err := sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer sem.Release(1)
	return fn()
}

// verifyResult compares the adapter's destination against the direct
// reference convolution and dies on divergence.
func verifyResult(sc Scenario, inst conv.Instance) {
	want := reference.Conv2D(sc.params(), inst.Src, inst.Weights, inst.Bias)

	var maxAbs, maxDiff float64
	for i := range want {
		if a := math.Abs(float64(want[i])); a > maxAbs {
			maxAbs = a
		}
		if d := math.Abs(float64(want[i] - inst.Dst[i])); d > maxDiff {
			maxDiff = d
		}
	}
	tol := 1e-3 * (1 + maxAbs)
	if maxDiff > tol {
		log.Fatal().
			Float64("max_diff", maxDiff).
			Float64("tolerance", tol).
			Str("scenario", sc.Name).
			Msg("Verification failed")
	}
	log.Info().Float64("max_diff", maxDiff).Msg("Verification passed")
}

func dumpTensors(path string, inst conv.Instance) error {
	return tensorio.WriteFile(path, []tensorio.Tensor{
		{Name: "src", Layout: "nhwc", Dims: []int{inst.N, inst.IC, inst.IH, inst.IW}, Values: inst.Src},
		{Name: "weights", Layout: "ihwo", Dims: []int{inst.OC, inst.IC, inst.KH, inst.KW}, Values: inst.Weights},
		{Name: "bias", Layout: "x", Dims: []int{inst.OC}, Values: inst.Bias},
		{Name: "dst", Layout: "nhwc", Dims: []int{inst.N, inst.OC, inst.OH, inst.OW}, Values: inst.Dst},
	})
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("convkit"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
