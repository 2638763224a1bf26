package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"github.com/shopspring/decimal"

	"github.com/zhukovaskychina/bitable/logger"
	"github.com/zhukovaskychina/bitable/server/bitable/basic"
	"github.com/zhukovaskychina/bitable/server/bitable/engine"
	"github.com/zhukovaskychina/bitable/server/conf"
	"github.com/zhukovaskychina/bitable/util"
)

const help = `
******************************************************************************************
*用法: bitable [选项] <命令> [参数]
*
*选项:
*  -configPath  指定 .ini 或 .toml 配置文件
*  -path        数据文件基础路径，覆盖配置中的 data_dir/base_name
*
*命令:
*  create                  创建数据文件
*  put <key> <value>       插入或覆盖
*  get <key>               查询
*  del <key>               删除
*  scan [from] [limit]     按序输出条目
*  stats                   文件与缓存统计
*  check                   校验树结构与空闲链表
*  dump <file> [codec]     导出，codec 为 none/snappy/lz4
*  load <file>             导入
******************************************************************************************
`

type command struct {
	args     string
	nargs    int
	writable bool
	run      func(e *engine.Engine, cfg *conf.Cfg, args []string) error
}

var commands = map[string]command{
	"create": {nargs: 0, writable: true, run: runCreate},
	"put":    {args: "<key> <value>", nargs: 2, writable: true, run: runPut},
	"get":    {args: "<key>", nargs: 1, run: runGet},
	"del":    {args: "<key>", nargs: 1, writable: true, run: runDel},
	"scan":   {args: "[from] [limit]", nargs: -1, run: runScan},
	"stats":  {nargs: 0, run: runStats},
	"check":  {nargs: 0, run: runCheck},
	"dump":   {args: "<file> [codec]", nargs: -1, run: runDump},
	"load":   {args: "<file>", nargs: 1, writable: true, run: runLoad},
}

func main() {
	var configPath, basePath string
	flag.StringVar(&configPath, "configPath", "", "配置文件路径")
	flag.StringVar(&basePath, "path", "", "数据文件基础路径")
	flag.Usage = func() { fmt.Fprint(os.Stderr, help) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if err := run(configPath, basePath, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "bitable %s: %v\n", flag.Arg(0), err)
		os.Exit(1)
	}
}

func run(configPath, basePath, name string, args []string) error {
	cmd, ok := commands[name]
	if !ok {
		return errors.NotFoundf("command %q", name)
	}
	if cmd.nargs >= 0 && len(args) != cmd.nargs {
		return errors.Errorf("usage: bitable %s %s", name, cmd.args)
	}

	cfg, err := conf.NewCfg().Load(&conf.CommandLineArgs{ConfigPath: configPath})
	if err != nil {
		return err
	}
	if err := logger.InitLogger(cfg.LogConfig()); err != nil {
		return errors.Annotate(err, "init logger")
	}

	paths, err := cfg.Paths()
	if basePath != "" {
		paths, err = basic.BuildPaths(basePath)
	}
	if err != nil {
		return err
	}
	opts, err := cfg.EngineOptions()
	if err != nil {
		return err
	}
	if !cmd.writable {
		opts.ReadOnly = true
		opts.Create = false
	}
	if name == "create" {
		if exists, _ := util.PathExists(paths.Primary); exists {
			return errors.AlreadyExistsf("%s", paths.Primary)
		}
		opts.Create = true
	}

	e, err := engine.Open(paths, cfg.ReadOpenFlags(), opts)
	if err != nil {
		return err
	}
	runErr := cmd.run(e, cfg, args)
	if err := e.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func runCreate(e *engine.Engine, _ *conf.Cfg, _ []string) error {
	fmt.Printf("created %s\n", e.Paths().Primary)
	return nil
}

func runPut(e *engine.Engine, _ *conf.Cfg, args []string) error {
	return e.Put(basic.Value(args[0]), basic.Value(args[1]))
}

func runGet(e *engine.Engine, _ *conf.Cfg, args []string) error {
	val, err := e.Get(basic.Value(args[0]))
	if err != nil {
		return err
	}
	fmt.Println(val.String())
	return nil
}

func runDel(e *engine.Engine, _ *conf.Cfg, args []string) error {
	return e.Delete(basic.Value(args[0]))
}

func runScan(e *engine.Engine, _ *conf.Cfg, args []string) error {
	if len(args) > 2 {
		return errors.New("usage: bitable scan [from] [limit]")
	}
	limit := -1
	if len(args) == 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 0 {
			return errors.NotValidf("limit %q", args[1])
		}
		limit = n
	}

	c, err := e.OpenCursor(basic.ReadSequential)
	if err != nil {
		return err
	}
	defer c.Close()

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	var key, val basic.Value
	if len(args) > 0 && args[0] != "" {
		if err = c.Seek(basic.Value(args[0])); err == nil {
			key, val, err = c.Current()
		}
	} else {
		key, val, err = c.Next()
	}
	for n := 0; limit < 0 || n < limit; n++ {
		if basic.IsEndOfSequence(err) {
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s\t%s\n", key.String(), val.String())
		key, val, err = c.Next()
	}
	return nil
}

func ratio(f float64) string {
	return decimal.NewFromFloat(f).Mul(decimal.New(100, 0)).StringFixed(2) + "%"
}

func runStats(e *engine.Engine, _ *conf.Cfg, _ []string) error {
	st, err := e.Stats(true)
	if err != nil {
		return err
	}
	mib := decimal.New(st.FileSize, 0).Div(decimal.New(1<<20, 0))
	fmt.Printf("path            %s\n", e.Paths().Primary)
	fmt.Printf("comparator      %s\n", e.Comparator().Name())
	fmt.Printf("page size       %d (alignment %d)\n", st.PageSize, st.Alignment)
	fmt.Printf("file size       %s MiB\n", mib.StringFixed(3))
	fmt.Printf("depth           %d\n", st.Depth)
	fmt.Printf("keys            %d\n", st.KeyCount)
	fmt.Printf("pages           %d (leaf %d, branch %d, free %d)\n",
		st.PageCount, st.LeafPages, st.BranchPages, st.FreePageCount)
	fmt.Printf("fill ratio      %s\n", ratio(st.FillRatio()))
	fmt.Printf("cache hit ratio %s\n", ratio(st.CacheHitRatio()))
	return nil
}

func runCheck(e *engine.Engine, _ *conf.Cfg, _ []string) error {
	info, err := e.Check()
	if err != nil {
		return err
	}
	fmt.Printf("ok: %d keys, depth %d, %d leaf pages, %d branch pages\n",
		info.KeyCount, info.Depth, info.LeafPages, info.BranchPages)
	return nil
}

func runDump(e *engine.Engine, cfg *conf.Cfg, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: bitable dump <file> [codec]")
	}
	codec, err := cfg.Codec()
	if len(args) == 2 {
		codec, err = engine.ParseCodec(args[1])
	}
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if args[0] != "-" {
		f, err := os.Create(args[0])
		if err != nil {
			return errors.Trace(err)
		}
		defer f.Close()
		w = f
	}
	bw := bufio.NewWriter(w)
	n, err := e.Dump(bw, codec)
	if err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return errors.Trace(err)
	}
	fmt.Fprintf(os.Stderr, "dumped %d entries (%s)\n", n, strings.ToLower(codec.String()))
	return nil
}

func runLoad(e *engine.Engine, _ *conf.Cfg, args []string) error {
	var r io.Reader = os.Stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return errors.Trace(err)
		}
		defer f.Close()
		r = f
	}
	n, err := e.Load(r)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "loaded %d entries\n", n)
	return nil
}
