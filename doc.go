/*
Package slave implements a client-side MySQL replication slave: it
connects to a primary, registers itself, streams the binary log,
decodes row-based events against the registered tables' schema and
delivers typed row changes to callbacks.

Typical use:

	state := slave.NewStateHolder()
	sl := slave.New(state, slave.WithServerID(42))

	sl.SetMasterInfo(slave.MasterInfo{
		Host: "127.0.0.1", Port: 3306,
		User: "repl", Password: "secret",
	})
	sl.SetCallback("shop", "orders", func(rs *slave.RecordSet) error {
		fmt.Println(rs.Kind, rs.After["id"].Value)
		return nil
	}, slave.All)

	if err := sl.Init(); err != nil {
		return err
	}
	var stop atomic.Bool
	err := sl.RunUntil(func() bool { return stop.Load() })

The read loop is single threaded: callbacks run on it and may block
it. To interrupt from another goroutine set the stop flag and call
CloseConnection, which makes the pending read fail and the loop
re-check its predicate.

Positions are tracked in two tiers: the in-transaction offset advances
on every event, while the committed (log name, offset) pair advances
only on XID and ROTATE. ExtState.SetLastEventTimePos sees the
in-transaction offset; only committed positions reach
ExtState.SetMasterLogNamePos and only they are used to resume after a
reconnect, so a
transaction is never resumed from its middle.
*/
package slave
