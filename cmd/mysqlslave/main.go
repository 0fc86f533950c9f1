package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/slavekit/slave"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mysqlslave",
		Short:         "stream and inspect MySQL row-based binlogs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "config file (yaml)")
	root.PersistentFlags().String("log-file", "", "also log to this file, rotated")
	root.PersistentFlags().String("log-level", "info", "zerolog level")
	root.AddCommand(streamCmd(), viewCmd())
	return root
}

func buildLogger(cmd *cobra.Command) (zerolog.Logger, error) {
	levelName, _ := cmd.Flags().GetString("log-level")
	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		return zerolog.Nop(), err
	}
	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}}
	if logFile, _ := cmd.Flags().GetString("log-file"); logFile != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100, // MB
			MaxBackups: 5,
			MaxAge:     30, // days
		})
	}
	return zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level).With().Timestamp().Logger(), nil
}

func loadConfig(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetDefault("port", 3306)
	v.SetDefault("server-id", 4)
	v.SetEnvPrefix("MYSQLSLAVE")
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	if cfg, _ := cmd.Flags().GetString("config"); cfg != "" {
		v.SetConfigFile(cfg)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func streamCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "follow the primary's binlog and print row changes",
		RunE:  runStream,
	}
	cmd.Flags().String("host", "127.0.0.1", "primary host")
	cmd.Flags().Uint16("port", 3306, "primary port")
	cmd.Flags().String("user", "root", "replication user")
	cmd.Flags().String("password", "", "replication password")
	cmd.Flags().String("database", "", "database to watch")
	cmd.Flags().StringSlice("tables", nil, "tables to watch")
	cmd.Flags().Uint32("server-id", 4, "server id reported to the primary")
	cmd.Flags().String("start", "", "start position FILE:POS, default resume/current")
	return cmd
}

func runStream(cmd *cobra.Command, args []string) error {
	log, err := buildLogger(cmd)
	if err != nil {
		return err
	}
	v, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	database := v.GetString("database")
	tables := v.GetStringSlice("tables")
	if database == "" || len(tables) == 0 {
		return fmt.Errorf("--database and --tables are required")
	}

	mi := slave.MasterInfo{
		Host:     v.GetString("host"),
		Port:     uint16(v.GetUint32("port")),
		User:     v.GetString("user"),
		Password: v.GetString("password"),
	}
	if start := v.GetString("start"); start != "" {
		name, posStr, ok := strings.Cut(start, ":")
		if !ok {
			return fmt.Errorf("invalid --start %q, want FILE:POS", start)
		}
		pos, err := strconv.ParseUint(posStr, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid --start %q: %v", start, err)
		}
		mi.LogName, mi.LogPos = name, pos
	}

	state := slave.NewStateHolder()
	sl := slave.New(state,
		slave.WithLogger(log),
		slave.WithServerID(v.GetUint32("server-id")),
	)
	sl.SetMasterInfo(mi)
	for _, table := range tables {
		sl.SetCallback(database, table, printRecord, slave.All)
	}
	if err := sl.Init(); err != nil {
		return err
	}

	var stop atomic.Bool
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		stop.Store(true)
		sl.CloseConnection()
	}()

	log.Info().Str("database", database).Strs("tables", tables).Msg("starting")
	return sl.RunUntil(stop.Load)
}

func printRecord(rs *slave.RecordSet) error {
	fmt.Printf("%s %s.%s", rs.Kind, rs.Database, rs.Table)
	if rs.Before != nil {
		fmt.Printf(" before=%v", imageString(rs.Before))
	}
	if rs.After != nil {
		fmt.Printf(" after=%v", imageString(rs.After))
	}
	fmt.Println()
	return nil
}

func imageString(img slave.RowImage) map[string]interface{} {
	m := make(map[string]interface{}, len(img))
	for name, cell := range img {
		m[name] = cell.Value
	}
	return m
}

func viewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "view FILE",
		Short: "print the events of a binlog file",
		Args:  cobra.ExactArgs(1),
		RunE:  runView,
	}
	return cmd
}

func runView(cmd *cobra.Command, args []string) error {
	fs, err := slave.OpenFile(args[0])
	if err != nil {
		return err
	}
	defer fs.Close()

	tables := map[uint64]*slave.Table{}
	for {
		ev, err := fs.NextEvent()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		fmt.Printf("%-20s size=%d nextPos=%d\n", ev.Header.EventType, ev.Header.EventSize, ev.Header.NextPos)
		switch data := ev.Data.(type) {
		case *slave.TableMapEvent:
			tables[data.TableID] = slave.TableOf(data)
		case *slave.RowsEvent:
			tab := tables[data.TableID]
			if tab == nil {
				continue
			}
			changes, err := fs.DecodeRows(data, tab)
			if err != nil {
				return err
			}
			for _, change := range changes {
				if change.Before != nil {
					fmt.Printf("    before: %v\n", imageString(change.Before))
				}
				if change.After != nil {
					fmt.Printf("    after:  %v\n", imageString(change.After))
				}
			}
		case *slave.QueryEvent:
			fmt.Printf("    query: %s\n", data.Query)
		case *slave.RotateEvent:
			fmt.Printf("    next: %s:%d\n", data.NextBinlog, data.Position)
		}
	}
}
