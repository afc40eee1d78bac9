package cmd

import (
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/profile"
	"github.com/urfave/cli/v2"

	"github.com/jitvm/rvsim/rvsim/sim"
)

var (
	RunInputFlag = &cli.PathFlag{
		Name:      "input",
		Usage:     "RISC-V ELF to load and run",
		TakesFile: true,
		Required:  true,
	}
	RunConfigFlag = &cli.PathFlag{
		Name:      "config",
		Usage:     "YAML run configuration (stack size, breakpoints, stops)",
		TakesFile: true,
	}
	RunEntryFlag = &cli.StringFlag{
		Name:  "entry",
		Usage: "Entrypoint address override (hex or decimal), defaults to the ELF entry",
	}
	RunTraceFlag = &cli.PathFlag{
		Name:  "trace",
		Usage: "File to write the per-instruction trace to",
	}
	RunStopAtFlag = &cli.Uint64Flag{
		Name:  "stop-at",
		Usage: "Halt after this many instructions (0 = run to completion)",
	}
	RunInfoAtFlag = &cli.Uint64Flag{
		Name:  "info-at",
		Usage: "Log progress every N instructions (0 = never)",
	}
	RunPProfCPU = &cli.BoolFlag{
		Name:  "pprof.cpu",
		Usage: "Write a CPU profile to the current directory",
	}
)

// Run loads a RISC-V ELF, registers the console write runtime function, and
// calls the entrypoint. The console trampoline address is passed in a0, so
// freestanding test programs can print by calling it with (ptr, len).
func Run(ctx *cli.Context) error {
	if ctx.Bool(RunPProfCPU.Name) {
		defer profile.Start(profile.NoShutdownHook, profile.ProfilePath("."), profile.CPUProfile).Stop()
	}

	l := Logger(os.Stderr, log.LevelInfo)

	simCfg := &sim.Config{}
	var fileCfg *Config
	if path := ctx.Path(RunConfigFlag.Name); path != "" {
		var err error
		if fileCfg, err = LoadConfig(path); err != nil {
			return err
		}
		simCfg.StackSize = fileCfg.StackSize
		simCfg.StrictAlign = fileCfg.StrictAlign
	}
	if tracePath := ctx.Path(RunTraceFlag.Name); tracePath != "" {
		f, err := os.Create(tracePath)
		if err != nil {
			return fmt.Errorf("failed to create trace file: %w", err)
		}
		defer f.Close()
		simCfg.Trace = f
	}
	simCfg.StopAtICount = ctx.Uint64(RunStopAtFlag.Name)

	s := sim.NewSimulator(simCfg)
	defer s.Close()
	if fileCfg != nil {
		if err := fileCfg.Apply(s); err != nil {
			return err
		}
	}

	elfPath := ctx.Path(RunInputFlag.Name)
	program, err := elf.Open(elfPath)
	if err != nil {
		return fmt.Errorf("failed to open ELF file %q: %w", elfPath, err)
	}
	defer program.Close()
	entry, err := LoadProgram(s.Memory(), program)
	if err != nil {
		return fmt.Errorf("failed to load ELF into guest memory: %w", err)
	}
	if e := ctx.String(RunEntryFlag.Name); e != "" {
		if entry, err = strconv.ParseUint(e, 0, 64); err != nil {
			return fmt.Errorf("invalid entry address %q: %w", e, err)
		}
	}

	outLog := &LoggingWriter{Name: "program output", Log: l}
	defer outLog.Flush()
	console := s.RegisterRuntimeFunction(sim.BuiltinCall, consoleWrite(s, outLog))

	infoAt := ctx.Uint64(RunInfoAtFlag.Name)
	if infoAt != 0 && (simCfg.StopAtICount == 0 || infoAt < simCfg.StopAtICount) {
		s.SetStopAt(infoAt)
	}

	start := time.Now()
	a0, a1, err := s.Call(entry, console)
	for infoAt != 0 && errors.Is(err, sim.ErrStopLimit) {
		delta := time.Since(start)
		l.Info("processing",
			"icount", s.ICount(),
			"pc", HexU64(s.PC()),
			"ips", float64(s.ICount())/(float64(delta)/float64(time.Second)),
			"pages", s.Memory().PageCount(),
			"mem", s.Memory().Usage(),
		)
		next := s.ICount() + infoAt
		if simCfg.StopAtICount != 0 {
			if s.ICount() >= simCfg.StopAtICount {
				break
			}
			if next > simCfg.StopAtICount {
				next = simCfg.StopAtICount
			}
		}
		s.SetStopAt(next)
		err = s.Run()
		a0, a1 = s.Register(10), s.Register(11)
	}
	if err != nil {
		return fmt.Errorf("run failed at icount %d (pc %016x): %w", s.ICount(), s.PC(), err)
	}

	l.Info("run complete",
		"icount", s.ICount(),
		"a0", HexU64(a0),
		"a1", HexU64(a1),
		"duration", time.Since(start),
		"pages", s.Memory().PageCount(),
		"mem", s.Memory().Usage(),
	)
	return nil
}

// consoleWrite is the runtime function handed to guest programs: a0 holds a
// guest pointer, a1 a byte length; the bytes go to the host log.
func consoleWrite(s *sim.Simulator, w io.Writer) sim.BuiltinFunc {
	return func(args [10]uint64) (uint64, uint64) {
		data, err := io.ReadAll(s.Memory().ReadMemoryRange(args[0], args[1]))
		if err != nil {
			return ^uint64(0), 0
		}
		n, err := w.Write(data)
		if err != nil {
			return ^uint64(0), 0
		}
		return uint64(n), 0
	}
}

var RunCommand = &cli.Command{
	Name:        "run",
	Usage:       "Run a RISC-V ELF under the simulator.",
	Description: "Load a RISC-V ELF and execute it from its entrypoint until the outermost frame returns, a breakpoint fires, or the instruction limit is reached.",
	Action:      Run,
	Flags: []cli.Flag{
		RunInputFlag,
		RunConfigFlag,
		RunEntryFlag,
		RunTraceFlag,
		RunStopAtFlag,
		RunInfoAtFlag,
		RunPProfCPU,
	},
}
