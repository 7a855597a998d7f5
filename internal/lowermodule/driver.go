// Package lowermodule drives a whole sir.Module through internal/lower: it
// registers every global and function declaration, fans function-body
// lowering out across a worker pool, and synthesizes the canonical entry
// point. Declarations run first so bodies can reference any symbol;
// bodies then fan out across worker goroutines with errors collected on
// a buffered channel.
package lowermodule

import (
	"fmt"
	"runtime"
	"sync"

	"tinygo.org/x/go-llvm"

	"sirlower/internal/lower"
	runtimesym "sirlower/internal/runtime"
	"sirlower/internal/sir"
)

// Driver owns one lower.Session for the lifetime of one module lowering.
type Driver struct {
	Session *lower.Session
	// Threads bounds how many goroutines the function-body pass fans out
	// across; 0 (the zero value) means runtime.GOMAXPROCS(0).
	Threads int
}

// NewDriver returns a Driver wrapping an existing Session.
func NewDriver(s *lower.Session) *Driver {
	return &Driver{Session: s}
}

// threadCount resolves the effective worker count for a job of size n.
func (d *Driver) threadCount(n int) int {
	t := d.Threads
	if t <= 0 {
		t = runtime.GOMAXPROCS(0)
	}
	if t > n {
		t = n
	}
	if t < 1 {
		t = 1
	}
	return t
}

// Lower registers every Var and Func in mod, lowers every Bodied/Internal/
// LLMEmbedded function's body, then synthesizes the canonical main if mod
// has one. The declare pass runs sequentially: it is cheap, and
// AddGlobal/AddFunction must not race against the shared Module. Only the
// function-body pass, the expensive part, is parallelized.
func (d *Driver) Lower(mod *sir.Module) error {
	// The ArgVar is registered ahead of (and may or may not also appear
	// inside) the ordinary
	// globals list, since it is the one global the driver itself writes
	// into rather than leaving entirely to SIR-driven lowering.
	if mod.ArgVar != nil {
		if _, err := d.Session.RegisterGlobal(mod.ArgVar); err != nil {
			return fmt.Errorf("lowermodule: argv global: %w", err)
		}
	}

	for _, v := range mod.Vars {
		if _, err := d.Session.RegisterGlobal(v); err != nil {
			return fmt.Errorf("lowermodule: global %q: %w", v.Name, err)
		}
	}

	type funcWrapper struct {
		ll llvm.Value
		f  *sir.Func
	}
	funcs := make([]funcWrapper, 0, len(mod.Funcs))
	for _, f := range mod.Funcs {
		fn, err := d.Session.RegisterFunc(f)
		if err != nil {
			return fmt.Errorf("lowermodule: func %q: %w", f.Name, err)
		}
		funcs = append(funcs, funcWrapper{ll: fn, f: f})
	}

	bodied := funcs[:0:0]
	for _, fw := range funcs {
		if fw.f.Kind == sir.Bodied || fw.f.Kind == sir.Internal || fw.f.Kind == sir.LLMEmbedded {
			bodied = append(bodied, fw)
		}
	}

	t := d.threadCount(len(bodied))
	if t <= 1 || len(bodied) == 0 {
		for _, fw := range bodied {
			if err := d.lowerOne(d.Session, fw.ll, fw.f); err != nil {
				return err
			}
		}
	} else {
		n := len(bodied) / t
		res := len(bodied) % t
		start := 0

		var wg sync.WaitGroup
		cerr := make(chan error, t)
		wg.Add(t)

		for i := 0; i < t; i++ {
			end := start + n
			if i < res {
				end++
			}
			go func(chunk []funcWrapper) {
				defer wg.Done()
				worker := d.Session.CloneForWorker()
				for _, fw := range chunk {
					if err := d.lowerOne(worker, fw.ll, fw.f); err != nil {
						cerr <- err
						return
					}
				}
			}(bodied[start:end])
			start = end
		}

		wg.Wait()
		close(cerr)
		var errs []error
		for err := range cerr {
			errs = append(errs, err)
		}
		if len(errs) > 0 {
			return fmt.Errorf("lowermodule: %d errors during parallel lowering, first: %w", len(errs), errs[0])
		}
	}

	if mod.MainFunc != nil {
		if err := d.synthesizeCanonicalMain(mod); err != nil {
			return fmt.Errorf("lowermodule: canonical main: %w", err)
		}
	}
	return nil
}

func (d *Driver) lowerOne(s *lower.Session, fn llvm.Value, f *sir.Func) error {
	switch f.Kind {
	case sir.Bodied:
		return s.LowerFuncBody(fn, f)
	case sir.Internal:
		return s.LowerInternalFunc(fn, f)
	case sir.LLMEmbedded:
		return s.LowerEmbeddedFunc(fn, f)
	default:
		return nil
	}
}

// synthesizeCanonicalMain builds the process entry point
// `main(argc, argv)`. realMain reads its command-line arguments out of
// the ArgVar global rather than through parameters, so main marshals
// argv into it first:
//  1. allocate an array of {i64 len, i8* data} of length argc,
//  2. for i in 0..argc, compute {strlen(argv[i]), argv[i]} into slot i,
//  3. store the array (plus argc) into ArgVar,
//  4. call seq_init(flags),
//  5. call codon.proxy_main(), which invokes realMain under an invoke whose
//     landing pad calls seq_terminate on any escaped exception,
//  6. return 0.
func (d *Driver) synthesizeCanonicalMain(mod *sir.Module) error {
	s := d.Session
	i32 := s.Ctx.Int32Type()
	i64 := s.Ctx.Int64Type()
	bytePtr := llvm.PointerType(s.Ctx.Int8Type(), 0)
	argvTy := llvm.PointerType(bytePtr, 0)
	strTy := s.Ctx.StructType([]llvm.Type{i64, bytePtr}, false)

	mainTy := llvm.FunctionType(i32, []llvm.Type{i32, argvTy}, false)
	mainFn := llvm.AddFunction(s.Module, "main", mainTy)
	mainFn.SetLinkage(llvm.ExternalLinkage)
	mainFn.Param(0).SetName("argc")
	mainFn.Param(1).SetName("argv")
	argc := mainFn.Param(0)
	argv := mainFn.Param(1)

	entry := llvm.AddBasicBlock(mainFn, "entry")
	s.Builder.SetInsertPointAtEnd(entry)

	argc64 := s.Builder.CreateSExt(argc, i64, "")

	if mod.ArgVar != nil {
		strlenFn := s.RuntimeFunc(runtimesym.Strlen, llvm.FunctionType(i64, []llvm.Type{bytePtr}, false))
		data := s.Builder.CreateArrayMalloc(strTy, argc64, "argv.data")

		condBlock := llvm.AddBasicBlock(mainFn, "argv.cond")
		bodyBlock := llvm.AddBasicBlock(mainFn, "argv.body")
		doneBlock := llvm.AddBasicBlock(mainFn, "argv.done")

		iVar := s.Builder.CreateAlloca(i64, "argv.i")
		s.Builder.CreateStore(llvm.ConstInt(i64, 0, false), iVar)
		s.Builder.CreateBr(condBlock)

		s.Builder.SetInsertPointAtEnd(condBlock)
		iVal := s.Builder.CreateLoad(iVar, "")
		cmp := s.Builder.CreateICmp(llvm.IntSLT, iVal, argc64, "")
		s.Builder.CreateCondBr(cmp, bodyBlock, doneBlock)

		s.Builder.SetInsertPointAtEnd(bodyBlock)
		iVal = s.Builder.CreateLoad(iVar, "")
		argvElemPtr := s.Builder.CreateGEP(argv, []llvm.Value{iVal}, "")
		cstr := s.Builder.CreateLoad(argvElemPtr, "")
		length := s.Builder.CreateCall(strlenFn, []llvm.Value{cstr}, "")
		slot := s.Builder.CreateGEP(data, []llvm.Value{iVal}, "")
		agg := llvm.Undef(strTy)
		agg = s.Builder.CreateInsertValue(agg, length, 0, "")
		agg = s.Builder.CreateInsertValue(agg, cstr, 1, "")
		s.Builder.CreateStore(agg, slot)
		s.Builder.CreateStore(s.Builder.CreateAdd(iVal, llvm.ConstInt(i64, 1, false), ""), iVar)
		s.Builder.CreateBr(condBlock)

		s.Builder.SetInsertPointAtEnd(doneBlock)
		argVarPtr, err := s.GetVar(mod.ArgVar)
		if err != nil {
			return fmt.Errorf("lowermodule: argv global: %w", err)
		}
		sliceTy := argVarPtr.Type().ElementType()
		sliceVal := llvm.Undef(sliceTy)
		sliceVal = s.Builder.CreateInsertValue(sliceVal, argc64, 0, "")
		castData := s.Builder.CreateBitCast(data, sliceTy.StructElementTypes()[1], "")
		sliceVal = s.Builder.CreateInsertValue(sliceVal, castData, 1, "")
		s.Builder.CreateStore(sliceVal, argVarPtr)
	} else {
		doneBlock := llvm.AddBasicBlock(mainFn, "argv.done")
		s.Builder.CreateBr(doneBlock)
		s.Builder.SetInsertPointAtEnd(doneBlock)
	}

	flags := int64(runtimesym.FlagStandalone)
	if s.Opts.Debug {
		flags |= runtimesym.FlagDebug
	}
	if s.Opts.JIT {
		flags |= runtimesym.FlagJIT
	}
	seqInit := s.RuntimeFunc(runtimesym.SeqInit, llvm.FunctionType(s.Ctx.VoidType(), []llvm.Type{i32}, false))
	s.Builder.CreateCall(seqInit, []llvm.Value{llvm.ConstInt(i32, uint64(flags), true)}, "")

	userMain, err := s.GetFunc(mod.MainFunc)
	if err != nil {
		return err
	}

	proxyTy := llvm.FunctionType(s.Ctx.VoidType(), nil, false)
	proxy := llvm.AddFunction(s.Module, "codon.proxy_main", proxyTy)
	proxy.SetLinkage(llvm.PrivateLinkage)
	s.PersonalityFn(proxy)

	proxyEntry := llvm.AddBasicBlock(proxy, "entry")
	lp := llvm.AddBasicBlock(proxy, "lp")
	normal := llvm.AddBasicBlock(proxy, "normal")

	s.Builder.SetInsertPointAtEnd(proxyEntry)
	s.Builder.CreateInvoke(userMain, nil, normal, lp, "")

	s.Builder.SetInsertPointAtEnd(normal)
	s.Builder.CreateRetVoid()

	s.Builder.SetInsertPointAtEnd(lp)
	lpType := s.LandingPadType()
	lpVal := s.Builder.CreateLandingPad(lpType, 0, "")
	lpVal.SetCleanup(true)
	terminateFn := s.RuntimeFunc(runtimesym.SeqTerminate, llvm.FunctionType(s.Ctx.VoidType(), []llvm.Type{bytePtr}, false))
	obj := s.Builder.CreateExtractValue(lpVal, 0, "")
	s.Builder.CreateCall(terminateFn, []llvm.Value{obj}, "")
	s.Builder.CreateUnreachable()

	lastBlock := mainFn.LastBasicBlock()
	s.Builder.SetInsertPointAtEnd(lastBlock)
	s.Builder.CreateCall(proxy, nil, "")
	s.Builder.CreateRet(llvm.ConstInt(i32, 0, false))
	return nil
}
