package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/crystal-mush/mudscript/pkg/config"
	"github.com/crystal-mush/mudscript/pkg/engine"
	"github.com/crystal-mush/mudscript/pkg/events"
	"github.com/crystal-mush/mudscript/pkg/scripting/assembly"
	"github.com/crystal-mush/mudscript/pkg/scripting/grammar"
	"github.com/crystal-mush/mudscript/pkg/scripting/script"
	"github.com/peterh/liner"
	"github.com/rodaine/table"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

const historyFile = ".mudscript_history"

const (
	promptMain = ">>> "
	promptCont = "... "
)

// printer shows the output of the scripts on the terminal.
type printer struct {
	w io.Writer
}

func (p printer) Receive(ev events.Event) {
	switch ev.Type {
	case events.EvScriptDone, events.EvScriptWait:
		return
	case events.EvPrint:
		fmt.Fprintln(p.w, ev.Text)
	default:
		fmt.Fprintf(p.w, "[%s] %s\n", ev.Type, ev.Text)
	}
}

func (p printer) Closed() bool { return false }

func main() {
	confFile := flag.String("conf", os.Getenv("MUDSCRIPT_CONF"), "Path to config file, for the declared events (env: MUDSCRIPT_CONF)")
	expr := flag.String("e", "", "Input to run (non-interactive mode)")
	file := flag.String("f", "", "Script file to compile and list (non-interactive mode)")
	noTypes := flag.Bool("no-types", false, "Do not check types")
	flag.Parse()

	commonlog.Configure(0, nil)

	conf := config.Default()
	if *confFile != "" {
		var err error
		if conf, err = config.Load(*confFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
	}
	conf.CheckTypes = !*noTypes

	bus := events.NewBus()
	bus.SubscribeGlobal(printer{w: os.Stdout})
	e, err := engine.New(conf, script.NewNamespace(bus))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Sched.Run(ctx)

	if *file != "" {
		os.Exit(compileFile(e, *file))
	}

	session := e.NewSession("author:console")
	if *expr != "" {
		r := session.Input(ctx, *expr)
		show(r)
		if r.Kind != engine.ReplyResult {
			os.Exit(1)
		}
		return
	}

	// Interactive REPL mode
	fmt.Println("mudscript console")
	fmt.Println("Type :help for the commands. Ctrl+D to exit.")
	fmt.Println()

	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)
	if f, err := os.Open(histPath); err == nil {
		ln.ReadHistory(f)
		f.Close()
	}
	ln.SetCompleter(func(line string) []string {
		var out []string
		for _, name := range e.NS.Functions() {
			if strings.HasPrefix(name, line) {
				out = append(out, name+"(")
			}
		}
		return out
	})

	var last *script.Script
	for {
		prompt := promptMain
		if session.Pending() {
			prompt = promptCont
		}
		line, err := ln.Prompt(prompt)
		if errors.Is(err, io.EOF) {
			fmt.Println()
			break
		}
		if errors.Is(err, liner.ErrPromptAborted) {
			session.Reset()
			continue
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			break
		}

		if !session.Pending() && strings.HasPrefix(strings.TrimSpace(line), ":") {
			if quit := command(e, session, last, strings.TrimSpace(line)); quit {
				break
			}
			continue
		}

		r := session.Input(ctx, line)
		if r.Script != nil {
			last = r.Script
		}
		if r.Kind != engine.ReplyMore && strings.TrimSpace(line) != "" {
			ln.AppendHistory(line)
		}
		show(r)
	}

	if f, err := os.Create(histPath); err == nil {
		ln.WriteHistory(f)
		f.Close()
	}
}

func show(r engine.Reply) {
	switch r.Kind {
	case engine.ReplyError:
		fmt.Println("error:", r.Text)
	case engine.ReplyResult:
		if r.Text != "" {
			fmt.Println(r.Text)
		}
	}
}

// command handles :help, :quit, :dis, :ast, :vars, :funcs, :rules
func command(e *engine.Engine, session *engine.Session, last *script.Script, line string) (quit bool) {
	fields := strings.Fields(line)
	switch fields[0] {
	case ":quit", ":q":
		return true
	case ":help":
		fmt.Println(":dis     list the instructions of the last input")
		fmt.Println(":ast     show the last input as it was parsed")
		fmt.Println(":vars    list the session variables")
		fmt.Println(":funcs   list the functions")
		fmt.Println(":events  list the declared events")
		fmt.Println(":rules   show the grammar")
		fmt.Println(":quit    leave")
	case ":dis":
		if last == nil {
			fmt.Println("nothing compiled yet")
			return false
		}
		disassemble(os.Stdout, last.Program)
	case ":ast":
		if last == nil {
			fmt.Println("nothing compiled yet")
			return false
		}
		fmt.Println(last.Pretty())
	case ":vars":
		names := make([]string, 0, len(session.Vars))
		for name := range session.Vars {
			names = append(names, name)
		}
		sort.Strings(names)
		tbl := table.New("Name", "Type", "Value").WithWriter(os.Stdout)
		for _, name := range names {
			v := session.Vars[name]
			tbl.AddRow(name, script.TypeOf(v), v.Repr())
		}
		tbl.Print()
	case ":funcs":
		tbl := table.New("Function", "Signature", "Help").WithWriter(os.Stdout)
		for _, name := range e.NS.Functions() {
			fn, _ := e.NS.Function(name)
			tbl.AddRow(name, fn.Signature, fn.Help)
		}
		tbl.Print()
	case ":events":
		tbl := table.New("Event", "Variables", "Help").WithWriter(os.Stdout)
		for _, name := range e.Events.Names() {
			ev, _ := e.Events.Lookup(name)
			var vars []string
			for _, v := range ev.Variables {
				t := v.Type.String()
				if v.Object != "" {
					t = v.Object
				}
				vars = append(vars, v.Name+" "+t)
			}
			tbl.AddRow(name, strings.Join(vars, ", "), ev.Help)
		}
		tbl.Print()
	case ":rules":
		fmt.Println(grammar.Rules())
	default:
		fmt.Printf("unknown command %s, try :help\n", fields[0])
	}
	return false
}

func disassemble(w io.Writer, p *assembly.Program) {
	tbl := table.New("#", "Opcode", "Operands").WithWriter(w)
	for i, instr := range p.Instructions() {
		tbl.AddRow(strconv.Itoa(i), instr.Name(), strings.Join(assembly.Operands(instr), " "))
	}
	tbl.Print()
}

// compileFile compiles a script file and lists its program.
func compileFile(e *engine.Engine, path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	s, err := e.Compiler.Compile(name, string(data), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	fmt.Println(s.Pretty())
	fmt.Println()
	disassemble(os.Stdout, s.Program)
	return 0
}
