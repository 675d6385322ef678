package bootflow

import (
	"errors"
	"fmt"
	"slices"

	"github.com/danmuck/mcportal/internal/config"
	"github.com/danmuck/mcportal/internal/dprc"
	"github.com/danmuck/mcportal/internal/session"
)

// Watch makes Export query the connection state of each endpoint's
// interface. Interface 0 of every listed object is always queried. Run
// watches every endpoint it connects.
func (r *Runner) Watch(eps ...dprc.Endpoint) {
	for _, ep := range eps {
		obj := session.Scope{Type: ep.Type, ID: ep.ID}
		if ep.Interface == 0 || slices.Contains(r.watched[obj], ep.Interface) {
			continue
		}
		r.watched[obj] = append(r.watched[obj], ep.Interface)
		slices.Sort(r.watched[obj])
	}
}

// WatchLayout watches both endpoints of every connection in layout.
func (r *Runner) WatchLayout(layout config.Layout) error {
	for _, c := range layout.Connections {
		for _, raw := range []string{c.Endpoint1, c.Endpoint2} {
			ep, err := config.ParseEndpoint(raw)
			if err != nil {
				return fmt.Errorf("bootflow: %w", err)
			}
			r.Watch(ep)
		}
	}
	return nil
}

// Export walks the container tree visible from the portal's own
// container and describes it for the next boot stage. Every session it
// opens is closed before it returns.
func (r *Runner) Export() (config.Topology, error) {
	fw, err := r.portal.FirmwareVersion()
	if err != nil {
		return config.Topology{}, fmt.Errorf("bootflow: export: %w", err)
	}
	rootID, err := r.dprc.GetContainerID()
	if err != nil {
		return config.Topology{}, fmt.Errorf("bootflow: export: %w", err)
	}
	root, err := r.exportContainer(rootID, "")
	if err != nil {
		return config.Topology{}, fmt.Errorf("bootflow: export: %w", err)
	}
	return config.Topology{Firmware: fw.String(), Root: root}, nil
}

func (r *Runner) exportContainer(id uint32, label string) (node config.ContainerNode, err error) {
	h, err := r.dprc.Open(id)
	if err != nil {
		return node, err
	}
	defer func() {
		err = errors.Join(err, r.closeIfOpen(h))
	}()

	attrs, err := r.dprc.GetAttributes(h)
	if err != nil {
		return node, err
	}
	node = config.ContainerNode{
		ID:       attrs.ID,
		Label:    label,
		ICID:     attrs.ICID,
		PortalID: attrs.PortalID,
		Options:  attrs.Options.Names(),
	}
	objs, err := r.dprc.Objects(h)
	if err != nil {
		return node, err
	}
	for _, obj := range objs {
		if obj.Type == session.ContainerType {
			child, err := r.exportContainer(obj.ID, obj.Label)
			if err != nil {
				return node, fmt.Errorf("container %d: %w", obj.ID, err)
			}
			node.Children = append(node.Children, child)
			continue
		}
		node.Objects = append(node.Objects, config.ObjectNode{
			Type:    obj.Type,
			ID:      obj.ID,
			Label:   obj.Label,
			Version: fmt.Sprintf("%d.%d", obj.VersionMajor, obj.VersionMinor),
		})
		ifaces := append([]uint32{0}, r.watched[session.Scope{Type: obj.Type, ID: obj.ID}]...)
		for _, iface := range ifaces {
			ep := dprc.Endpoint{Type: obj.Type, ID: obj.ID, Interface: iface}
			conn, err := r.dprc.GetConnection(h, ep)
			if err != nil {
				return node, err
			}
			if conn.Connected() {
				node.Connections = append(node.Connections, config.ConnectionNode{
					Endpoint: ep.String(),
					Peer:     conn.Peer.String(),
					State:    conn.State.String(),
				})
			}
		}
	}
	return node, nil
}
