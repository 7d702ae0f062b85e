package browser

// candidatesScript lists every element inside body in document order together
// with its client rectangle in CSS pixels. The array index is the element ref.
const candidatesScript = `(() => {
	const all = document.body ? document.body.getElementsByTagName('*') : [];
	const result = [];
	for (let i = 0; i < all.length; i++) {
		const el = all[i];
		const rect = el.getBoundingClientRect();
		result.push({
			tag: el.tagName.toLowerCase(),
			x: rect.x,
			y: rect.y,
			width: rect.right - rect.left,
			height: rect.bottom - rect.top
		});
	}
	return result;
})()`

// elementRefScript returns the document-order index of the element it is
// evaluated on, or -1 when it lives outside body.
const elementRefScript = `(el) => Array.prototype.indexOf.call(document.body.getElementsByTagName('*'), el)`

const tagNameScript = `(el) => el.tagName.toLowerCase()`

const pixelRatioScript = `() => window.devicePixelRatio`
