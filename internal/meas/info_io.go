package meas

import (
	"errors"
	"fmt"
	"time"

	"github.com/acpuchades/eegtools/internal/fiff"
)

// ReadInfo decodes a measurement-info block.
func ReadInfo(b *fiff.Block) (*Info, error) {
	if b == nil {
		return nil, errors.New("measurement info block not found")
	}
	nchan, err := b.Int(fiff.KindNChan)
	if err != nil {
		return nil, err
	}
	if nchan <= 0 {
		return nil, fmt.Errorf("invalid channel count %d", nchan)
	}
	sfreq, err := b.Float64(fiff.KindSFreq)
	if err != nil {
		return nil, err
	}
	if sfreq <= 0 {
		return nil, fmt.Errorf("invalid sampling frequency %g", sfreq)
	}

	info := &Info{SFreq: sfreq}
	for _, t := range b.TagsOf(fiff.KindChInfo) {
		ci, err := t.ChInfo()
		if err != nil {
			return nil, err
		}
		ch := Channel{
			Name:     ci.Name,
			Kind:     ci.Kind,
			Unit:     ci.Unit,
			UnitMul:  ci.UnitMul,
			Cal:      float64(ci.Cal),
			Range:    float64(ci.Range),
			CoilType: ci.CoilType,
			ScanNo:   int(ci.ScanNo),
		}
		for k, v := range ci.Loc {
			ch.Loc[k] = float64(v)
		}
		info.Channels = append(info.Channels, ch)
	}
	if len(info.Channels) != int(nchan) {
		return nil, fmt.Errorf("measurement info lists %d channels, header says %d", len(info.Channels), nchan)
	}

	if t := b.Tag(fiff.KindMeasDate); t != nil {
		v, err := t.Ints()
		if err != nil {
			return nil, err
		}
		if len(v) >= 2 {
			info.MeasDate = time.Unix(int64(v[0]), int64(v[1])*1000).UTC()
		}
	}
	if info.Description, err = b.TextOr(fiff.KindComment); err != nil {
		return nil, err
	}

	if bads := b.Child(fiff.BlockMNEBadChannels); bads != nil {
		if info.Bads, err = bads.NameList(fiff.KindMNEChNameList); err != nil {
			return nil, err
		}
	}

	if info.Projs, err = ReadProjectors(b); err != nil {
		return nil, err
	}
	return info, nil
}

// ReadProjectors decodes the projector block stored directly under b, if any.
func ReadProjectors(b *fiff.Block) ([]Projector, error) {
	projBlock := b.Child(fiff.BlockProj)
	if projBlock == nil {
		return nil, nil
	}
	var out []Projector
	for _, item := range projBlock.Find(fiff.BlockProjItem) {
		p, err := readProjector(item)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func readProjector(b *fiff.Block) (Projector, error) {
	var p Projector
	var err error
	if p.Kind, err = b.Int(fiff.KindProjItemKind); err != nil {
		return p, err
	}
	if p.Desc, err = b.TextOr(fiff.KindName); err != nil {
		return p, err
	}
	active, err := b.IntOr(fiff.KindProjItemActive, 0)
	if err != nil {
		return p, err
	}
	p.Active = active != 0
	if p.Names, err = b.NameList(fiff.KindProjItemChNames); err != nil {
		return p, err
	}
	if p.Vectors, err = b.Matrix(fiff.KindProjItemVectors); err != nil {
		return p, err
	}
	return p, nil
}

// WriteInfo emits info as a measurement-info block.
func WriteInfo(w *fiff.Writer, info *Info) {
	w.StartBlock(fiff.BlockMeasInfo)
	w.WriteInt(fiff.KindNChan, int32(info.NChan()))
	w.WriteFloat(fiff.KindSFreq, info.SFreq)
	if !info.MeasDate.IsZero() {
		w.WriteInts(fiff.KindMeasDate, []int32{int32(info.MeasDate.Unix()), int32(info.MeasDate.Nanosecond() / 1000)})
	}
	if info.Description != "" {
		w.WriteString(fiff.KindComment, info.Description)
	}
	for k, ch := range info.Channels {
		ci := fiff.ChInfo{
			ScanNo:   int32(k + 1),
			LogNo:    int32(k + 1),
			Kind:     ch.Kind,
			Range:    float32(ch.Range),
			Cal:      float32(ch.Cal),
			CoilType: ch.CoilType,
			Unit:     ch.Unit,
			UnitMul:  ch.UnitMul,
			Name:     ch.Name,
		}
		for j, v := range ch.Loc {
			ci.Loc[j] = float32(v)
		}
		w.WriteChInfo(ci)
	}
	if len(info.Bads) > 0 {
		w.StartBlock(fiff.BlockMNEBadChannels)
		w.WriteNameList(fiff.KindMNEChNameList, info.Bads)
		w.EndBlock(fiff.BlockMNEBadChannels)
	}
	WriteProjectors(w, info.Projs)
	w.EndBlock(fiff.BlockMeasInfo)
}

// WriteProjectors emits a projector block; nothing is written for no projectors.
func WriteProjectors(w *fiff.Writer, projs []Projector) {
	if len(projs) == 0 {
		return
	}
	w.StartBlock(fiff.BlockProj)
	for _, p := range projs {
		w.StartBlock(fiff.BlockProjItem)
		w.WriteString(fiff.KindName, p.Desc)
		w.WriteInt(fiff.KindProjItemKind, p.Kind)
		nvec, _ := p.Vectors.Dims()
		w.WriteInt(fiff.KindProjItemNVec, int32(nvec))
		active := int32(0)
		if p.Active {
			active = 1
		}
		w.WriteInt(fiff.KindProjItemActive, active)
		w.WriteNameList(fiff.KindProjItemChNames, p.Names)
		w.WriteFloatMatrix(fiff.KindProjItemVectors, p.Vectors)
		w.EndBlock(fiff.BlockProjItem)
	}
	w.EndBlock(fiff.BlockProj)
}
