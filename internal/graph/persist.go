package graph

import (
	"fmt"
	"io"
	"os"

	"github.com/born-ml/cngraph/internal/serialization"
	"github.com/born-ml/cngraph/internal/tensor"
)

// CurrentModelVersion is the model version written by Save.
//
// Version 1 models have no evaluation role and no convolution sub-batch cap.
const CurrentModelVersion = 2

// header builds the file header and the tensors of every persisted value.
func (net *Network) header() (serialization.Header, map[string]*tensor.Matrix, error) {
	h := serialization.Header{
		ModelVersion: CurrentModelVersion,
		Nodes:        make([]serialization.NodeRecord, 0, len(net.order)),
		Roles:        make(map[string][]string),
	}
	tensors := make(map[string]*tensor.Matrix)
	for _, n := range net.order {
		attrs, err := n.MarshalAttrs()
		if err != nil {
			return h, nil, fmt.Errorf("node %q: %w", n.Name(), err)
		}
		inputs := make([]string, len(n.Inputs()))
		for i, in := range n.Inputs() {
			if in != nil {
				inputs[i] = in.Name()
			}
		}
		img := n.Image()
		h.Nodes = append(h.Nodes, serialization.NodeRecord{
			Name:           n.Name(),
			Operation:      n.OperationName(),
			Inputs:         inputs,
			NeedsGradient:  n.NeedsGradient(),
			Image:          [3]int{img.Width, img.Height, img.Channels},
			SamplesPerStep: n.SamplesPerStep(),
			Attrs:          attrs,
		})
		if persistsValue(n) && !n.Value().IsEmpty() {
			tensors[serialization.ValueTensorName(n.Name())] = n.Value()
		}
	}
	for _, role := range AllRoles {
		for _, m := range net.roles[role] {
			h.Roles[string(role)] = append(h.Roles[string(role)], m.Name())
		}
	}
	return h, tensors, nil
}

// Encode writes the network to w in .cnm format.
func (net *Network) Encode(w io.Writer) error {
	h, tensors, err := net.header()
	if err != nil {
		return err
	}
	return serialization.Write(w, h, tensors)
}

// Save writes the network to path.
func (net *Network) Save(path string) error {
	h, tensors, err := net.header()
	if err != nil {
		return err
	}
	if err := serialization.WriteFile(path, h, tensors); err != nil {
		return err
	}
	net.logger.Debug("saved network", "path", path, "nodes", len(net.order))
	return nil
}

// Decode replaces the network's contents with the .cnm stream read from r.
func (net *Network) Decode(r io.Reader) error {
	m, err := serialization.Read(r, serialization.ReaderOptions{ValidationLevel: serialization.ValidationStrict})
	if err != nil {
		return err
	}
	return net.restore(m)
}

// Load reads the network from path. Nodes are built through the network's
// registry.
func (net *Network) Load(path string) error {
	//nolint:gosec // G304: model paths come from user scripts
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("load model: %w", err)
	}
	defer func() { _ = f.Close() }()
	if err := net.Decode(f); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	net.logger.Debug("loaded network", "path", path, "nodes", len(net.order))
	return nil
}

// Load reads a network from path using the default registry.
func Load(path string, opts ...Option) (*Network, error) {
	net := New(opts...)
	if err := net.Load(path); err != nil {
		return nil, err
	}
	return net, nil
}

func (net *Network) restore(m *serialization.Model) error {
	if err := serialization.ValidateNodes(&m.Header); err != nil {
		return err
	}
	version := m.Header.ModelVersion
	if version < 1 || version > CurrentModelVersion {
		return fmt.Errorf("%w: model version %d", serialization.ErrUnsupportedVersion, version)
	}

	fresh := New(WithLogger(net.logger), WithRegistry(net.registry))
	for _, rec := range m.Header.Nodes {
		n, err := fresh.registry.New(rec.Operation, rec.Name)
		if err != nil {
			return fmt.Errorf("node %q: %w", rec.Name, err)
		}
		if err := n.UnmarshalAttrs(rec.Attrs, version); err != nil {
			return fmt.Errorf("node %q: %w", rec.Name, err)
		}
		n.SetNeedsGradient(rec.NeedsGradient)
		n.SetImage(ImageLayout{Width: rec.Image[0], Height: rec.Image[1], Channels: rec.Image[2]})
		if v, ok := m.Tensors[serialization.ValueTensorName(rec.Name)]; ok {
			n.Value().CopyFrom(v)
		}
		if _, err := fresh.AddNode(n); err != nil {
			return err
		}
		n.SetSamplesPerStep(rec.SamplesPerStep)
		fresh.samplesPerStep = max(fresh.samplesPerStep, n.SamplesPerStep())
	}

	for _, rec := range m.Header.Nodes {
		n := fresh.nodes[rec.Name]
		if len(rec.Inputs) != len(n.Inputs()) {
			return &ShapeError{Node: rec.Name, Op: rec.Operation, Err: ErrArity,
				Details: fmt.Sprintf("file lists %d inputs, node takes %d", len(rec.Inputs), len(n.Inputs()))}
		}
		for i, name := range rec.Inputs {
			if name == "" {
				continue
			}
			if err := n.SetInput(i, fresh.nodes[name]); err != nil {
				return err
			}
		}
	}

	for _, role := range AllRoles {
		if role == RoleEvaluation && version < 2 {
			continue
		}
		for _, name := range m.Header.Roles[string(role)] {
			if err := fresh.AddRole(role, fresh.nodes[name]); err != nil {
				return err
			}
		}
	}

	*net = *fresh
	return nil
}
